package modules

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/nexuscfg/nexus/pkg/shellquote"
	"github.com/nexuscfg/nexus/pkg/template"
	"github.com/nexuscfg/nexus/pkg/types"
)

// TemplateModule templates files to remote hosts
type TemplateModule struct {
	BaseModule
	engine     *template.Engine
	fileModule *FileModule
}

// NewTemplateModule creates a new template module instance
func NewTemplateModule() *TemplateModule {
	return &TemplateModule{
		BaseModule: BaseModule{
			name: "template",
		},
		engine:     template.NewEngine(),
		fileModule: NewFileModule(),
	}
}

// Run executes the template module: render the named template through
// the shared evaluator, then delegate the write to the file module so
// sudo-aware atomic writes, idempotent mode/owner, check_mode and diff_mode
// all apply to templated files the same way they apply to file: content.
func (m *TemplateModule) Run(ctx context.Context, conn types.Connection, args map[string]interface{}) (*types.Result, error) {
	// Get arguments
	src, _ := args["src"].(string)
	dest, _ := args["dest"].(string)
	backup, _ := args["backup"].(bool)
	mode, _ := args["mode"].(string)
	owner, _ := args["owner"].(string)
	group, _ := args["group"].(string)
	vars, _ := args["vars"].(map[string]interface{})

	checkMode := m.CheckMode(args)

	result := &types.Result{
		Success: true,
		Changed: false,
		Data:    make(map[string]interface{}),
	}

	// Read template file
	templateContent, err := m.readTemplateFile(src)
	if err != nil {
		result.Success = false
		result.Error = fmt.Errorf("failed to read template file: %v", err)
		return result, nil
	}

	// Render template
	rendered, err := m.renderTemplate(templateContent, vars)
	if err != nil {
		result.Success = false
		result.Error = fmt.Errorf("failed to render template: %v", err)
		return result, nil
	}

	// Back up the existing destination before it is overwritten
	var backupPath string
	if backup {
		destExists, currentContent := m.getDestinationContent(ctx, conn, dest)
		if destExists && currentContent != rendered {
			backupPath = fmt.Sprintf("%s.backup", dest)
			if !checkMode {
				backupCmd := fmt.Sprintf("cp %s %s", shellquote.Single(dest), shellquote.Single(backupPath))
				if _, err := conn.Execute(ctx, backupCmd, types.ExecuteOptions{}); err != nil {
					result.Success = false
					result.Error = fmt.Errorf("failed to backup file: %v", err)
					return result, nil
				}
			}
		}
	}

	fileArgs := map[string]interface{}{
		"path":    dest,
		"state":   "file",
		"content": rendered,
	}
	if mode != "" {
		fileArgs["mode"] = mode
	}
	if owner != "" {
		fileArgs["owner"] = owner
	}
	if group != "" {
		fileArgs["group"] = group
	}
	for _, passthrough := range []string{"become", "become_user", "_check_mode", "_diff"} {
		if v, ok := args[passthrough]; ok {
			fileArgs[passthrough] = v
		}
	}

	fileResult, err := m.fileModule.Run(ctx, conn, fileArgs)
	if err != nil {
		return nil, err
	}
	if !fileResult.Success {
		result.Success = false
		result.Error = fileResult.Error
		return result, nil
	}

	result.Changed = fileResult.Changed
	if diff, ok := fileResult.Data["diff"]; ok {
		result.Data["diff"] = diff
	}
	if backupPath != "" {
		result.Data["backup_file"] = backupPath
	}
	result.Data["dest"] = dest
	result.Data["checksum"] = m.calculateChecksum(rendered)

	if result.Changed {
		result.Message = "Template rendered and copied successfully"
	} else {
		result.Message = "File already exists with same content"
	}

	if checkMode {
		return m.CreateCheckModeResult(m.GetHostFromConnection(conn), result.Changed, result.Message, result.Data), nil
	}

	return result, nil
}

// readTemplateFile reads the template file from local filesystem
func (m *TemplateModule) readTemplateFile(path string) (string, error) {
	// First try as absolute path
	if data, err := os.ReadFile(path); err == nil {
		return string(data), nil
	}
	
	// Try relative to current directory
	if data, err := os.ReadFile(path); err == nil {
		return string(data), nil
	}
	
	// Try in templates directory
	templatesPath := fmt.Sprintf("templates/%s", path)
	if data, err := os.ReadFile(templatesPath); err == nil {
		return string(data), nil
	}
	
	return "", fmt.Errorf("template file not found: %s", path)
}

// renderTemplate renders content through the shared expression/template
// evaluator (§4.3): {{ expr }} substitution, if/for blocks, filters.
func (m *TemplateModule) renderTemplate(templateContent string, vars map[string]interface{}) (string, error) {
	return m.engine.Render(templateContent, vars)
}

// getDestinationContent gets the content of the destination file if it exists
func (m *TemplateModule) getDestinationContent(ctx context.Context, conn types.Connection, dest string) (bool, string) {
	// Check if file exists
	checkCmd := fmt.Sprintf("test -f %s && echo EXISTS || echo NOTEXISTS", dest)
	checkResult, err := conn.Execute(ctx, checkCmd, types.ExecuteOptions{})
	if err != nil || strings.TrimSpace(checkResult.Message) != "EXISTS" {
		return false, ""
	}
	
	// Get file content
	catCmd := fmt.Sprintf("cat %s", dest)
	catResult, err := conn.Execute(ctx, catCmd, types.ExecuteOptions{})
	if err != nil {
		return true, ""
	}
	
	return true, catResult.Message
}

// setOwnership sets file ownership
func (m *TemplateModule) setOwnership(ctx context.Context, conn types.Connection, path, owner, group string) error {
	if owner == "" && group == "" {
		return nil
	}
	
	ownership := ""
	if owner != "" && group != "" {
		ownership = fmt.Sprintf("%s:%s", owner, group)
	} else if owner != "" {
		ownership = owner
	} else {
		ownership = ":" + group
	}
	
	chownCmd := fmt.Sprintf("chown %s %s", ownership, path)
	_, err := conn.Execute(ctx, chownCmd, types.ExecuteOptions{})
	return err
}

// setMode sets file permissions
func (m *TemplateModule) setMode(ctx context.Context, conn types.Connection, path, mode string) error {
	chmodCmd := fmt.Sprintf("chmod %s %s", mode, shellquote.Single(path))
	_, err := conn.Execute(ctx, chmodCmd, types.ExecuteOptions{})
	return err
}

// calculateChecksum returns the sha256 hex digest of content, matching the
// checksum Ansible's template module reports for change detection.
func (m *TemplateModule) calculateChecksum(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Validate checks if the module arguments are valid
func (m *TemplateModule) Validate(args map[string]interface{}) error {
	// Src is required
	src, ok := args["src"]
	if !ok || src == nil || src == "" {
		return types.NewValidationError("src", src, "required field is missing")
	}
	
	// Dest is required
	dest, ok := args["dest"]
	if !ok || dest == nil || dest == "" {
		return types.NewValidationError("dest", dest, "required field is missing")
	}
	
	return nil
}

// Documentation returns the module documentation
func (m *TemplateModule) Documentation() types.ModuleDoc {
	return types.ModuleDoc{
		Name:        "template",
		Description: "Template a file out to a remote server",
		Parameters: map[string]types.ParamDoc{
			"src": {
				Description: "Path to the template file",
				Required:    true,
				Type:        "string",
			},
			"dest": {
				Description: "Location to render the template to on the remote machine",
				Required:    true,
				Type:        "string",
			},
			"backup": {
				Description: "Create a backup file if the destination already exists",
				Required:    false,
				Type:        "bool",
				Default:     false,
			},
			"mode": {
				Description: "Permissions of the destination file (octal)",
				Required:    false,
				Type:        "string",
				Default:     "0644",
			},
			"owner": {
				Description: "Owner of the destination file",
				Required:    false,
				Type:        "string",
			},
			"group": {
				Description: "Group of the destination file",
				Required:    false,
				Type:        "string",
			},
			"vars": {
				Description: "Variables to use in the template",
				Required:    false,
				Type:        "dict",
			},
		},
		Examples: []string{
			"- name: Template configuration file\n  template:\n    src: nginx.conf.j2\n    dest: /etc/nginx/nginx.conf\n    mode: '0644'\n    backup: true",
			"- name: Template with variables\n  template:\n    src: app.config.j2\n    dest: /opt/app/config.yml\n    vars:\n      port: 8080\n      debug: false",
		},
		Returns: map[string]string{
			"dest":        "Destination file path",
			"checksum":    "Checksum of the rendered file",
			"backup_file": "Path to backup file if created",
		},
	}
}