package rbac

import (
	"context"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/warden/pkg/validation"
)

// TemplateFile is the YAML seed of permissions and level templates
type TemplateFile struct {
	Permissions []Permission       `yaml:"permissions"`
	Templates   map[Level][]string `yaml:"templates"`
}

// LoadTemplates reads and validates a templates file
func LoadTemplates(path string) (*TemplateFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read templates file: %w", err)
	}
	return ParseTemplates(data)
}

// ParseTemplates decodes and validates a templates document
func ParseTemplates(data []byte) (*TemplateFile, error) {
	var tf TemplateFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	known := make(map[string]bool, len(tf.Permissions))
	for i := range tf.Permissions {
		perm := &tf.Permissions[i]
		if perm.Type == "" {
			perm.Type = PermissionAPI
		}
		if err := validation.Struct("rbac.ParseTemplates", perm); err != nil {
			return nil, err
		}
		if known[perm.Code] {
			return nil, fmt.Errorf("duplicate permission %s", perm.Code)
		}
		known[perm.Code] = true
	}

	for level, codes := range tf.Templates {
		if level != LevelOrgAdmin && level != LevelStandard {
			return nil, fmt.Errorf("templates exist for levels 2 and 3 only, got %d", int(level))
		}
		for _, code := range codes {
			if !known[code] {
				return nil, fmt.Errorf("template for level %d references unknown permission %s", int(level), code)
			}
		}
	}
	return &tf, nil
}

// ApplyTemplates upserts the file's permissions and replaces the templates it
// names. Levels absent from the file keep their current template.
func (p *Policy) ApplyTemplates(ctx context.Context, tf *TemplateFile) error {
	err := p.store.DB().InTx(ctx, func(ctx context.Context) error {
		for i := range tf.Permissions {
			perm := tf.Permissions[i]
			perm.Status = StatusActive
			perm.CreatedAt = p.now()
			if err := p.store.UpsertPermission(ctx, &perm); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	levels := make([]Level, 0, len(tf.Templates))
	for level := range tf.Templates {
		levels = append(levels, level)
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i] < levels[j] })

	for _, level := range levels {
		if _, err := p.AssignTemplate(ctx, level, tf.Templates[level]); err != nil {
			return err
		}
	}

	p.logger.WithFields(map[string]interface{}{
		"permissions": len(tf.Permissions),
		"levels":      len(levels),
	}).Info("Permission templates applied")
	return nil
}
