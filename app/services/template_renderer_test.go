package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderTemplate(t *testing.T) {
	tests := []struct {
		name     string
		template string
		data     map[string]string
		want     string
	}{
		{
			name:     "substitutes every occurrence",
			template: "Hi {name}, {name}! Call {phone}",
			data:     map[string]string{"name": "Sara", "phone": "98912"},
			want:     "Hi Sara, Sara! Call 98912",
		},
		{
			name:     "leaves unknown placeholders",
			template: "Hi {name}, your code is {code}",
			data:     map[string]string{"name": "Ali"},
			want:     "Hi Ali, your code is {code}",
		},
		{
			name:     "prefix keys do not collide",
			template: "{first_name} / {first}",
			data:     map[string]string{"first": "A", "first_name": "B"},
			want:     "B / A",
		},
		{
			name:     "values are not re-expanded",
			template: "{a}",
			data:     map[string]string{"a": "{b}", "b": "x"},
			want:     "{b}",
		},
		{
			name:     "no data",
			template: "plain {text}",
			data:     nil,
			want:     "plain {text}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RenderTemplate(tt.template, tt.data))
		})
	}
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, []string{"name", "city"}, Placeholders("Hello {name} from {city}, {name}"))
	assert.Nil(t, Placeholders("no placeholders"))
	assert.Nil(t, Placeholders("broken {name"))
}
