package notifications

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrTemplateNotFound = errors.New("template not found")
	ErrTemplateInvalid  = errors.New("invalid template")
)

// tokenPattern matches {{name}} placeholders, with optional inner
// whitespace. Unknown tokens are left literal by the renderer.
var tokenPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.]+)\s*\}\}`)

// TemplateStore manages notification templates
type TemplateStore struct {
	db *gorm.DB
}

// NewTemplateStore creates a new template store
func NewTemplateStore(db *gorm.DB) *TemplateStore {
	return &TemplateStore{db: db}
}

// Create creates a new template. The variable list is taken from the
// request or derived from the body's placeholders when absent.
func (ts *TemplateStore) Create(ctx context.Context, req *TemplateRequest) (*NotificationTemplate, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrTemplateInvalid)
	}
	if strings.TrimSpace(req.Content) == "" {
		return nil, fmt.Errorf("%w: content is required", ErrTemplateInvalid)
	}

	var count int64
	if err := ts.db.WithContext(ctx).Model(&NotificationTemplate{}).
		Where("name = ?", req.Name).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("failed to check template name: %w", err)
	}
	if count > 0 {
		return nil, fmt.Errorf("%w: template %q already exists", ErrTemplateInvalid, req.Name)
	}

	variables := req.Variables
	if len(variables) == 0 {
		variables = ExtractVariables(req.Subject, req.Content, req.ContentHTML)
	}

	template := &NotificationTemplate{
		Name:        req.Name,
		Type:        req.Type,
		Subject:     req.Subject,
		Content:     req.Content,
		ContentHTML: req.ContentHTML,
		Variables:   variables,
	}

	if err := ts.db.WithContext(ctx).Create(template).Error; err != nil {
		return nil, fmt.Errorf("failed to create template: %w", err)
	}

	return template, nil
}

// Get gets a template by ID
func (ts *TemplateStore) Get(ctx context.Context, templateID uuid.UUID) (*NotificationTemplate, error) {
	var template NotificationTemplate
	if err := ts.db.WithContext(ctx).First(&template, "id = ?", templateID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTemplateNotFound
		}
		return nil, fmt.Errorf("failed to get template: %w", err)
	}

	return &template, nil
}

// GetByName gets a template by name
func (ts *TemplateStore) GetByName(ctx context.Context, name string) (*NotificationTemplate, error) {
	var template NotificationTemplate
	if err := ts.db.WithContext(ctx).Where("name = ?", name).First(&template).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTemplateNotFound
		}
		return nil, fmt.Errorf("failed to get template: %w", err)
	}

	return &template, nil
}

// List lists templates newest-first
func (ts *TemplateStore) List(ctx context.Context, limit, offset int) ([]NotificationTemplate, error) {
	if limit <= 0 {
		limit = 50
	}

	var templates []NotificationTemplate
	if err := ts.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&templates).Error; err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}

	return templates, nil
}

// Render substitutes {{name}} tokens in subject, content and HTML
// content with corresponding values from variables. Tokens without a
// matching variable stay literal; missing variables never fail the
// render.
func (ts *TemplateStore) Render(template *NotificationTemplate, variables map[string]interface{}) (subject, content, contentHTML string) {
	subject = RenderString(template.Subject, variables)
	content = RenderString(template.Content, variables)
	contentHTML = RenderString(template.ContentHTML, variables)
	return subject, content, contentHTML
}

// RenderString substitutes {{name}} tokens in one body.
func RenderString(body string, variables map[string]interface{}) string {
	if body == "" || len(variables) == 0 {
		return body
	}

	return tokenPattern.ReplaceAllStringFunc(body, func(token string) string {
		name := tokenPattern.FindStringSubmatch(token)[1]
		value, ok := variables[name]
		if !ok {
			return token
		}
		return fmt.Sprintf("%v", value)
	})
}

// ExtractVariables derives the declarative variable list from the
// placeholders appearing in the given bodies.
func ExtractVariables(bodies ...string) []string {
	seen := make(map[string]struct{})
	var names []string

	for _, body := range bodies {
		for _, match := range tokenPattern.FindAllStringSubmatch(body, -1) {
			name := match[1]
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}

	return names
}
