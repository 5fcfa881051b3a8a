package modules

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/nexuscfg/nexus/pkg/shellquote"
	"github.com/nexuscfg/nexus/pkg/types"
)

// FileModule manages files, directories, symlinks and file content (§4.4).
type FileModule struct {
	BaseModule
}

// NewFileModule creates a new file module instance
func NewFileModule() *FileModule {
	return &FileModule{
		BaseModule: BaseModule{
			name: "file",
		},
	}
}

// Run executes the file module
func (m *FileModule) Run(ctx context.Context, conn types.Connection, args map[string]interface{}) (*types.Result, error) {
	path, _ := args["path"].(string)
	state, _ := args["state"].(string)
	mode, _ := args["mode"].(string)
	owner, _ := args["owner"].(string)
	group, _ := args["group"].(string)
	src, _ := args["src"].(string)
	content, hasContent := args["content"].(string)
	recurse, _ := args["recurse"].(bool)
	force, _ := args["force"].(bool)
	become, _ := args["become"].(bool)
	becomeUser, _ := args["become_user"].(string)

	checkMode := m.CheckMode(args)
	diffMode := m.DiffMode(args)

	if state == "" {
		state = "file"
	}

	if path == "" {
		return m.CreateFailureResult("", "path is required", types.NewValidationError("path", path, "required"), nil), nil
	}

	exists, err := m.pathExists(ctx, conn, path)
	if err != nil {
		return m.CreateErrorResult(m.GetHostFromConnection(conn), "failed to check path", err), nil
	}

	switch state {
	case "directory":
		return m.handleDirectory(ctx, conn, path, mode, owner, group, exists, recurse, checkMode)

	case "file":
		// state=file with neither content nor src supplied writes no
		// content: a missing path is created empty with touch, and an
		// existing path only has its mode/owner applied.
		if !hasContent && src != "" {
			data, readErr := os.ReadFile(src)
			if readErr != nil {
				return m.CreateFailureResult(m.GetHostFromConnection(conn), "failed to read local source", readErr, nil), nil
			}
			content = string(data)
			hasContent = true
		}
		return m.handleFile(ctx, conn, path, mode, owner, group, content, hasContent, exists, checkMode, diffMode, become, becomeUser)

	case "link":
		return m.handleLink(ctx, conn, path, src, force, exists, checkMode)

	case "absent":
		return m.handleAbsent(ctx, conn, path, exists, checkMode)

	case "touch":
		return m.handleTouch(ctx, conn, path, mode, owner, group, checkMode)

	default:
		return m.CreateFailureResult(m.GetHostFromConnection(conn), fmt.Sprintf("unsupported state: %s", state), types.NewValidationError("state", state, "unsupported"), nil), nil
	}
}

// pathExists reports whether path exists on the target.
func (m *FileModule) pathExists(ctx context.Context, conn types.Connection, path string) (bool, error) {
	q := shellquote.Single(path)
	checkResult, err := conn.Execute(ctx, fmt.Sprintf("test -e %s && echo EXISTS || echo NOTEXISTS", q), types.ExecuteOptions{})
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(checkResult.Message) == "EXISTS", nil
}

// handleDirectory creates or updates a directory
func (m *FileModule) handleDirectory(ctx context.Context, conn types.Connection, path, mode, owner, group string, exists, recurse, checkMode bool) (*types.Result, error) {
	host := m.GetHostFromConnection(conn)
	changed := false

	if !exists {
		if !checkMode {
			if _, err := conn.Execute(ctx, "mkdir -p "+shellquote.Single(path), types.ExecuteOptions{}); err != nil {
				return m.CreateFailureResult(host, "failed to create directory", err, nil), nil
			}
		}
		changed = true
	} else {
		q := shellquote.Single(path)
		checkResult, _ := conn.Execute(ctx, fmt.Sprintf("test -d %s && echo DIR || echo NOTDIR", q), types.ExecuteOptions{})
		if strings.TrimSpace(checkResult.Message) != "DIR" {
			return m.CreateFailureResult(host, "path exists but is not a directory", fmt.Errorf("not a directory: %s", path), nil), nil
		}
	}

	modeChanged, err := m.applyModeOwnership(ctx, conn, path, mode, owner, group, recurse, checkMode)
	if err != nil {
		return m.CreateFailureResult(host, err.Error(), err, nil), nil
	}
	changed = changed || modeChanged

	message := "directory already exists"
	if changed {
		message = "directory created or updated"
	}
	if checkMode {
		return m.CreateCheckModeResult(host, changed, message, map[string]interface{}{"path": path}), nil
	}
	return m.CreateSuccessResult(host, changed, message, map[string]interface{}{"path": path}), nil
}

// handleFile creates/updates a regular file, writing content only when it differs.
func (m *FileModule) handleFile(ctx context.Context, conn types.Connection, path, mode, owner, group, content string, hasContent, exists, checkMode, diffMode, become bool, becomeUser string) (*types.Result, error) {
	host := m.GetHostFromConnection(conn)
	changed := false
	data := map[string]interface{}{"path": path}

	if hasContent {
		contentChanged, diff, err := m.applyContent(ctx, conn, path, content, checkMode, diffMode, become, becomeUser)
		if err != nil {
			return m.CreateFailureResult(host, "failed to write content", err, nil), nil
		}
		changed = changed || contentChanged
		if diff != "" {
			data["diff"] = diff
		}
	} else if !exists {
		if !checkMode {
			if _, err := conn.Execute(ctx, "touch "+shellquote.Single(path), types.ExecuteOptions{}); err != nil {
				return m.CreateFailureResult(host, "failed to create file", err, nil), nil
			}
		}
		changed = true
	} else {
		q := shellquote.Single(path)
		checkResult, _ := conn.Execute(ctx, fmt.Sprintf("test -f %s && echo FILE || echo NOTFILE", q), types.ExecuteOptions{})
		if strings.TrimSpace(checkResult.Message) != "FILE" {
			return m.CreateFailureResult(host, "path exists but is not a file", fmt.Errorf("not a file: %s", path), nil), nil
		}
	}

	modeChanged, err := m.applyModeOwnership(ctx, conn, path, mode, owner, group, false, checkMode)
	if err != nil {
		return m.CreateFailureResult(host, err.Error(), err, nil), nil
	}
	changed = changed || modeChanged

	message := "file already in desired state"
	if changed {
		message = "file created or updated"
	}
	if checkMode {
		return m.CreateCheckModeResult(host, changed, message, data), nil
	}
	return m.CreateSuccessResult(host, changed, message, data), nil
}

// applyContent writes content to path via an atomic base64+rename, only
// when the remote file's sha256 differs from the desired content's. When
// become is set, the write runs through the sudo wrapper so it can land
// files outside the connecting user's ownership.
func (m *FileModule) applyContent(ctx context.Context, conn types.Connection, path, content string, checkMode, diffMode, become bool, becomeUser string) (bool, string, error) {
	want := sha256.Sum256([]byte(content))
	wantHex := hex.EncodeToString(want[:])

	q := shellquote.Single(path)
	hashResult, _ := conn.Execute(ctx, fmt.Sprintf("sha256sum %s 2>/dev/null | cut -d' ' -f1", q), types.ExecuteOptions{})
	currentHex := strings.TrimSpace(hashResult.Message)

	if currentHex == wantHex && currentHex != "" {
		return false, "", nil
	}

	var diff string
	if diffMode {
		before, _ := conn.Execute(ctx, fmt.Sprintf("cat %s 2>/dev/null", q), types.ExecuteOptions{})
		diff = unifiedDiff(before.Message, content, path)
	}

	if checkMode {
		return true, diff, nil
	}

	b64 := base64.StdEncoding.EncodeToString([]byte(content))
	writeCmd := fmt.Sprintf(`tmp=%s.nexus-tmp-$$; echo %s | base64 -d > "$tmp" && mv -f "$tmp" %s`, q, shellquote.Single(b64), q)
	if become {
		writeCmd = shellquote.Sudo(writeCmd, becomeUser)
	}
	if _, err := conn.Execute(ctx, writeCmd, types.ExecuteOptions{}); err != nil {
		return false, diff, fmt.Errorf("failed to write content: %w", err)
	}
	return true, diff, nil
}

// unifiedDiff renders a unified diff of before -> after, labelled with path.
func unifiedDiff(before, after, path string) string {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(before),
		B:        difflib.SplitLines(after),
		FromFile: path + " (before)",
		ToFile:   path + " (after)",
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return ""
	}
	return text
}

// handleLink creates a symbolic link
func (m *FileModule) handleLink(ctx context.Context, conn types.Connection, path, src string, force, exists, checkMode bool) (*types.Result, error) {
	host := m.GetHostFromConnection(conn)

	if src == "" {
		return m.CreateFailureResult(host, "src is required for link state", types.NewValidationError("src", src, "required when state=link"), nil), nil
	}

	if exists {
		q := shellquote.Single(path)
		readResult, err := conn.Execute(ctx, "readlink "+q, types.ExecuteOptions{})
		if err == nil && strings.TrimSpace(readResult.Message) == src {
			return m.CreateSuccessResult(host, false, "link already exists with correct target", map[string]interface{}{"path": path}), nil
		}

		if !force {
			return m.CreateFailureResult(host, "path already exists, use force=true to replace", fmt.Errorf("path exists: %s", path), nil), nil
		}
		if !checkMode {
			if _, err := conn.Execute(ctx, "rm -f "+q, types.ExecuteOptions{}); err != nil {
				return m.CreateFailureResult(host, "failed to remove existing path", err, nil), nil
			}
		}
	}

	if checkMode {
		return m.CreateCheckModeResult(host, true, "link would be created", map[string]interface{}{"path": path}), nil
	}

	lnCmd := fmt.Sprintf("ln -s %s %s", shellquote.Single(src), shellquote.Single(path))
	if _, err := conn.Execute(ctx, lnCmd, types.ExecuteOptions{}); err != nil {
		return m.CreateFailureResult(host, "failed to create link", err, nil), nil
	}

	return m.CreateSuccessResult(host, true, "link created", map[string]interface{}{"path": path}), nil
}

// handleAbsent removes a file or directory
func (m *FileModule) handleAbsent(ctx context.Context, conn types.Connection, path string, exists, checkMode bool) (*types.Result, error) {
	host := m.GetHostFromConnection(conn)

	if !exists {
		return m.CreateSuccessResult(host, false, "path already absent", map[string]interface{}{"path": path}), nil
	}

	if checkMode {
		return m.CreateCheckModeResult(host, true, "path would be removed", map[string]interface{}{"path": path}), nil
	}

	if _, err := conn.Execute(ctx, "rm -rf "+shellquote.Single(path), types.ExecuteOptions{}); err != nil {
		return m.CreateFailureResult(host, "failed to remove path", err, nil), nil
	}

	return m.CreateSuccessResult(host, true, "path removed", map[string]interface{}{"path": path}), nil
}

// handleTouch updates file timestamps. Always changed, per §4.4.
func (m *FileModule) handleTouch(ctx context.Context, conn types.Connection, path, mode, owner, group string, checkMode bool) (*types.Result, error) {
	host := m.GetHostFromConnection(conn)

	if checkMode {
		return m.CreateCheckModeResult(host, true, "file would be touched", map[string]interface{}{"path": path}), nil
	}

	if _, err := conn.Execute(ctx, "touch "+shellquote.Single(path), types.ExecuteOptions{}); err != nil {
		return m.CreateFailureResult(host, "failed to touch file", err, nil), nil
	}

	if _, err := m.applyModeOwnership(ctx, conn, path, mode, owner, group, false, false); err != nil {
		return m.CreateFailureResult(host, err.Error(), err, nil), nil
	}

	return m.CreateSuccessResult(host, true, "file touched", map[string]interface{}{"path": path}), nil
}

// applyModeOwnership queries the path's current mode/owner/group and only
// issues chmod/chown when the desired value differs, so repeated runs are
// idempotent. It still reports the would-be change when checkMode is set,
// without mutating anything.
func (m *FileModule) applyModeOwnership(ctx context.Context, conn types.Connection, path, mode, owner, group string, recurse, checkMode bool) (bool, error) {
	if mode == "" && owner == "" && group == "" {
		return false, nil
	}

	curMode, curOwner, curGroup, ok := m.statPath(ctx, conn, path)
	changed := false

	if mode != "" {
		wantMode, err := normalizeOctal(mode)
		if err != nil {
			return false, fmt.Errorf("invalid mode: %s", mode)
		}
		if !ok || wantMode != curMode {
			changed = true
			if !checkMode {
				chmodCmd := fmt.Sprintf("chmod %s %s", wantMode, shellquote.Single(path))
				if recurse {
					chmodCmd = fmt.Sprintf("chmod -R %s %s", wantMode, shellquote.Single(path))
				}
				if _, err := conn.Execute(ctx, chmodCmd, types.ExecuteOptions{}); err != nil {
					return false, fmt.Errorf("failed to set mode: %w", err)
				}
			}
		}
	}

	if owner != "" || group != "" {
		ownerDiffers := owner != "" && (!ok || owner != curOwner)
		groupDiffers := group != "" && (!ok || group != curGroup)
		if ownerDiffers || groupDiffers {
			changed = true
			if !checkMode {
				ownership := owner
				if group != "" {
					ownership = owner + ":" + group
				}
				chownCmd := fmt.Sprintf("chown %s %s", ownership, shellquote.Single(path))
				if recurse {
					chownCmd = fmt.Sprintf("chown -R %s %s", ownership, shellquote.Single(path))
				}
				if _, err := conn.Execute(ctx, chownCmd, types.ExecuteOptions{}); err != nil {
					return false, fmt.Errorf("failed to set ownership: %w", err)
				}
			}
		}
	}

	return changed, nil
}

// statPath queries current mode/owner/group via GNU stat, falling back to
// BSD stat's flag set when the GNU form isn't available.
func (m *FileModule) statPath(ctx context.Context, conn types.Connection, path string) (mode, owner, group string, ok bool) {
	q := shellquote.Single(path)
	cmd := fmt.Sprintf("stat -c '%%a %%U %%G' %s 2>/dev/null || stat -f '%%Lp %%Su %%Sg' %s 2>/dev/null", q, q)
	result, err := conn.Execute(ctx, cmd, types.ExecuteOptions{})
	if err != nil || !result.Success {
		return "", "", "", false
	}
	fields := strings.Fields(strings.TrimSpace(result.Message))
	if len(fields) != 3 {
		return "", "", "", false
	}
	normalized, err := normalizeOctal(fields[0])
	if err != nil {
		return "", "", "", false
	}
	return normalized, fields[1], fields[2], true
}

// normalizeOctal parses a mode string (e.g. "0755" or "755") and returns
// it without a leading zero, so "0755" and "755" compare equal.
func normalizeOctal(mode string) (string, error) {
	v, err := strconv.ParseInt(mode, 8, 32)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(v, 8), nil
}

// Validate checks if the module arguments are valid
func (m *FileModule) Validate(args map[string]interface{}) error {
	path, ok := args["path"]
	if !ok || path == nil || path == "" {
		return types.NewValidationError("path", path, "required field is missing")
	}

	if state, ok := args["state"].(string); ok {
		validStates := []string{"file", "directory", "link", "absent", "touch"}
		valid := false
		for _, s := range validStates {
			if state == s {
				valid = true
				break
			}
		}
		if !valid {
			return types.NewValidationError("state", state,
				fmt.Sprintf("must be one of: %s", strings.Join(validStates, ", ")))
		}

		if state == "link" {
			if src, ok := args["src"]; !ok || src == nil || src == "" {
				return types.NewValidationError("src", src, "required when state=link")
			}
		}
	}

	if mode, ok := args["mode"].(string); ok && mode != "" {
		if _, err := strconv.ParseInt(mode, 8, 32); err != nil {
			return types.NewValidationError("mode", mode, "must be an octal number")
		}
	}

	return nil
}

// Documentation returns the module documentation
func (m *FileModule) Documentation() types.ModuleDoc {
	return types.ModuleDoc{
		Name:        "file",
		Description: "Manage files, directories and file content",
		Parameters: map[string]types.ParamDoc{
			"path": {
				Description: "Path to the file or directory",
				Required:    true,
				Type:        "string",
			},
			"state": {
				Description: "State of the file (file, directory, link, absent, touch)",
				Required:    false,
				Type:        "string",
				Default:     "file",
				Choices:     []string{"file", "directory", "link", "absent", "touch"},
			},
			"content": {
				Description: "Content to write to the file; only written when it differs from the current content",
				Required:    false,
				Type:        "string",
			},
			"mode": {
				Description: "Permissions of the file or directory (octal)",
				Required:    false,
				Type:        "string",
			},
			"owner": {
				Description: "Owner of the file or directory",
				Required:    false,
				Type:        "string",
			},
			"group": {
				Description: "Group of the file or directory",
				Required:    false,
				Type:        "string",
			},
			"src": {
				Description: "Source path for symlinks (state=link), or a local file whose content is pushed (state=file)",
				Required:    false,
				Type:        "string",
			},
			"recurse": {
				Description: "Recursively apply attributes to directory contents",
				Required:    false,
				Type:        "bool",
				Default:     false,
			},
			"force": {
				Description: "Force creation of symlinks",
				Required:    false,
				Type:        "bool",
				Default:     false,
			},
		},
		Examples: []string{
			"- name: Create directory\n  file:\n    path: /tmp/test\n    state: directory\n    mode: '0755'",
			"- name: Write a file's content\n  file:\n    path: /etc/app.conf\n    content: \"key=value\\n\"\n    mode: '0644'",
			"- name: Create symlink\n  file:\n    src: /opt/app/bin\n    path: /usr/local/bin/app\n    state: link",
			"- name: Remove file\n  file:\n    path: /tmp/unwanted\n    state: absent",
		},
		Returns: map[string]string{
			"path":    "Path to the file or directory",
			"diff":    "Unified diff of content changes, when diff_mode is on",
			"changed": "Whether the file was modified",
		},
	}
}
