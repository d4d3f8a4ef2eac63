package notifications

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderString(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		variables map[string]interface{}
		want      string
	}{
		{
			name:      "simple substitution",
			body:      "Hello {{name}}!",
			variables: map[string]interface{}{"name": "Ada"},
			want:      "Hello Ada!",
		},
		{
			name:      "multiple tokens",
			body:      "{{greeting}} {{name}}",
			variables: map[string]interface{}{"greeting": "Hi", "name": "Ada"},
			want:      "Hi Ada",
		},
		{
			name:      "unknown token stays literal",
			body:      "Hello {{name}}, order {{order_id}}",
			variables: map[string]interface{}{"name": "Ada"},
			want:      "Hello Ada, order {{order_id}}",
		},
		{
			name:      "missing variables do not fail",
			body:      "Hello {{name}}",
			variables: map[string]interface{}{},
			want:      "Hello {{name}}",
		},
		{
			name:      "non-string value",
			body:      "Amount: {{amount}}",
			variables: map[string]interface{}{"amount": 42.5},
			want:      "Amount: 42.5",
		},
		{
			name:      "whitespace inside token",
			body:      "Hello {{ name }}",
			variables: map[string]interface{}{"name": "Ada"},
			want:      "Hello Ada",
		},
		{
			name:      "empty body",
			body:      "",
			variables: map[string]interface{}{"name": "Ada"},
			want:      "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RenderString(tt.body, tt.variables))
		})
	}
}

func TestExtractVariables(t *testing.T) {
	variables := ExtractVariables(
		"Hello {{name}}",
		"Your order {{order_id}} for {{name}} shipped",
		"<b>{{ name }}</b>",
	)

	assert.Equal(t, []string{"name", "order_id"}, variables)
}

func TestTemplateStoreCreate(t *testing.T) {
	db := setupTestDB(t)
	store := NewTemplateStore(db)

	template, err := store.Create(context.Background(), &TemplateRequest{
		Name:    "welcome-email",
		Type:    TypeEmail,
		Subject: "Welcome {{name}}",
		Content: "Hello {{name}}, your code is {{code}}.",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"name", "code"}, template.Variables)

	loaded, err := store.GetByName(context.Background(), "welcome-email")
	require.NoError(t, err)
	assert.Equal(t, template.ID, loaded.ID)
}

func TestTemplateStoreCreateValidation(t *testing.T) {
	db := setupTestDB(t)
	store := NewTemplateStore(db)

	_, err := store.Create(context.Background(), &TemplateRequest{Name: " ", Type: TypeEmail, Content: "x"})
	assert.ErrorIs(t, err, ErrTemplateInvalid)

	_, err = store.Create(context.Background(), &TemplateRequest{Name: "t", Type: TypeEmail, Content: ""})
	assert.ErrorIs(t, err, ErrTemplateInvalid)
}

func TestTemplateStoreDuplicateName(t *testing.T) {
	db := setupTestDB(t)
	store := NewTemplateStore(db)

	_, err := store.Create(context.Background(), &TemplateRequest{Name: "dup", Type: TypeEmail, Content: "x"})
	require.NoError(t, err)

	_, err = store.Create(context.Background(), &TemplateRequest{Name: "dup", Type: TypeEmail, Content: "y"})
	assert.ErrorIs(t, err, ErrTemplateInvalid)
}

func TestTemplateStoreRender(t *testing.T) {
	db := setupTestDB(t)
	store := NewTemplateStore(db)

	template := &NotificationTemplate{
		Subject:     "Hi {{name}}",
		Content:     "Your balance is {{balance}}",
		ContentHTML: "<p>{{name}}</p>",
	}

	subject, content, contentHTML := store.Render(template, map[string]interface{}{
		"name":    "Ada",
		"balance": 10,
	})

	assert.Equal(t, "Hi Ada", subject)
	assert.Equal(t, "Your balance is 10", content)
	assert.Equal(t, "<p>Ada</p>", contentHTML)
}

func TestTemplateStoreExplicitVariableList(t *testing.T) {
	db := setupTestDB(t)
	store := NewTemplateStore(db)

	template, err := store.Create(context.Background(), &TemplateRequest{
		Name:      "explicit",
		Type:      TypeEmail,
		Content:   "Hello {{name}}",
		Variables: []string{"name", "extra"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "extra"}, template.Variables)
}
