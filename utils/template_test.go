package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderTemplateSubstitutesVariables(t *testing.T) {
	got := RenderTemplate("Hello {{customer_name}}, your order {{order_id}} shipped", map[string]string{
		"customer_name": "Maria",
		"order_id":      "ORD-42",
	})
	assert.Equal(t, "Hello Maria, your order ORD-42 shipped", got)
}

func TestRenderTemplateKeepsUnmatchedPlaceholders(t *testing.T) {
	got := RenderTemplate("Hi {{customer_name}}, code: {{discount_code}}", map[string]string{
		"customer_name": "Jo",
	})
	assert.Equal(t, "Hi Jo, code: {{discount_code}}", got)
}

func TestRenderTemplateTrimsPlaceholderWhitespace(t *testing.T) {
	got := RenderTemplate("Hello {{ customer_name }}", map[string]string{
		"customer_name": "Sam",
	})
	assert.Equal(t, "Hello Sam", got)
}

func TestRenderTemplateIsCaseSensitive(t *testing.T) {
	got := RenderTemplate("Hello {{Customer_Name}}", map[string]string{
		"customer_name": "Sam",
	})
	assert.Equal(t, "Hello {{Customer_Name}}", got)
}

func TestRenderTemplateNoPlaceholders(t *testing.T) {
	got := RenderTemplate("Plain content", map[string]string{"x": "y"})
	assert.Equal(t, "Plain content", got)
}

func TestRenderTemplateEmptyVariableValue(t *testing.T) {
	got := RenderTemplate("Hi {{customer_name}}!", map[string]string{
		"customer_name": "",
	})
	assert.Equal(t, "Hi !", got)
}

func TestRenderTemplateRepeatedPlaceholder(t *testing.T) {
	got := RenderTemplate("{{name}} and {{name}} again", map[string]string{"name": "Ana"})
	assert.Equal(t, "Ana and Ana again", got)
}
