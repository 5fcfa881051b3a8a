package modules

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"strings"
	"testing"

	"github.com/nexuscfg/nexus/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestTemplateModule_Validate(t *testing.T) {
	module := NewTemplateModule()

	tests := []struct {
		name    string
		args    map[string]interface{}
		wantErr bool
		errMsg  string
	}{
		{
			name:    "missing src",
			args:    map[string]interface{}{"dest": "/tmp/test"},
			wantErr: true,
			errMsg:  "required field is missing",
		},
		{
			name:    "missing dest",
			args:    map[string]interface{}{"src": "test.tmpl"},
			wantErr: true,
			errMsg:  "required field is missing",
		},
		{
			name: "valid args",
			args: map[string]interface{}{
				"src":  "test.tmpl",
				"dest": "/tmp/test",
			},
			wantErr: false,
		},
		{
			name: "with backup",
			args: map[string]interface{}{
				"src":    "test.tmpl",
				"dest":   "/tmp/test",
				"backup": true,
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := module.Validate(tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				if tt.errMsg != "" {
					assert.Contains(t, err.Error(), tt.errMsg)
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTemplateModule_RenderTemplate(t *testing.T) {
	module := NewTemplateModule()

	tests := []struct {
		name     string
		template string
		vars     map[string]interface{}
		expected string
	}{
		{
			name:     "simple variable",
			template: "Hello {{ name }}!",
			vars:     map[string]interface{}{"name": "World"},
			expected: "Hello World!",
		},
		{
			name:     "multiple variables",
			template: "{{ greeting }} {{ name }}, port: {{ port }}",
			vars: map[string]interface{}{
				"greeting": "Hello",
				"name":     "Server",
				"port":     8080,
			},
			expected: "Hello Server, port: 8080",
		},
		{
			name:     "conditional",
			template: "Debug: {% if debug %}enabled{% else %}disabled{% endif %}",
			vars:     map[string]interface{}{"debug": true},
			expected: "Debug: enabled",
		},
		{
			name:     "for loop",
			template: "Items:{% for item in items %} {{ item }}{% endfor %}",
			vars:     map[string]interface{}{"items": []interface{}{"a", "b", "c"}},
			expected: "Items: a b c",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := module.renderTemplate(tt.template, tt.vars)
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestTemplateModule_Run_NewFile(t *testing.T) {
	module := NewTemplateModule()
	ctx := context.Background()
	mockConn := new(MockConnection)

	tmpFile, err := os.CreateTemp("", "test*.tmpl")
	assert.NoError(t, err)
	defer os.Remove(tmpFile.Name())

	_, err = tmpFile.Write([]byte("Hello {{ name }}!"))
	assert.NoError(t, err)
	tmpFile.Close()

	args := map[string]interface{}{
		"src":  tmpFile.Name(),
		"dest": "/tmp/test.conf",
		"vars": map[string]interface{}{
			"name": "World",
		},
	}

	// Rendering delegates the write to the file module: pathExists, then
	// a content sha256 comparison, then the atomic base64+mv write.
	mockConn.On("Execute", ctx, "test -e '/tmp/test.conf' && echo EXISTS || echo NOTEXISTS",
		types.ExecuteOptions{}).Return(&types.Result{Success: true, Message: "NOTEXISTS"}, nil)

	mockConn.On("Execute", ctx, "sha256sum '/tmp/test.conf' 2>/dev/null | cut -d' ' -f1",
		types.ExecuteOptions{}).Return(&types.Result{Success: true, Message: ""}, nil)

	mockConn.On("Execute", ctx, mock.MatchedBy(func(cmd string) bool {
		return strings.Contains(cmd, "base64 -d") && strings.Contains(cmd, "mv -f")
	}), types.ExecuteOptions{}).Return(&types.Result{Success: true}, nil)

	result, err := module.Run(ctx, mockConn, args)

	assert.NoError(t, err)
	assert.NotNil(t, result)
	assert.True(t, result.Success)
	assert.True(t, result.Changed)
	assert.Equal(t, "Template rendered and copied successfully", result.Message)
	assert.Equal(t, "/tmp/test.conf", result.Data["dest"])

	mockConn.AssertExpectations(t)
}

func TestTemplateModule_Run_ExistingFileSameContent(t *testing.T) {
	module := NewTemplateModule()
	ctx := context.Background()
	mockConn := new(MockConnection)

	tmpFile, err := os.CreateTemp("", "test*.tmpl")
	assert.NoError(t, err)
	defer os.Remove(tmpFile.Name())

	_, err = tmpFile.Write([]byte("Hello {{ name }}!"))
	assert.NoError(t, err)
	tmpFile.Close()

	args := map[string]interface{}{
		"src":  tmpFile.Name(),
		"dest": "/tmp/test.conf",
		"vars": map[string]interface{}{
			"name": "World",
		},
	}

	expectedContent := "Hello World!"
	sum := sha256.Sum256([]byte(expectedContent))
	hexSum := hex.EncodeToString(sum[:])

	mockConn.On("Execute", ctx, "test -e '/tmp/test.conf' && echo EXISTS || echo NOTEXISTS",
		types.ExecuteOptions{}).Return(&types.Result{Success: true, Message: "EXISTS"}, nil)

	mockConn.On("Execute", ctx, "sha256sum '/tmp/test.conf' 2>/dev/null | cut -d' ' -f1",
		types.ExecuteOptions{}).Return(&types.Result{Success: true, Message: hexSum}, nil)

	result, err := module.Run(ctx, mockConn, args)

	assert.NoError(t, err)
	assert.NotNil(t, result)
	assert.True(t, result.Success)
	assert.False(t, result.Changed)
	assert.Equal(t, "File already exists with same content", result.Message)

	mockConn.AssertExpectations(t)
}

func TestTemplateModule_Run_CheckMode_DoesNotWrite(t *testing.T) {
	module := NewTemplateModule()
	ctx := context.Background()
	mockConn := new(MockConnection)

	tmpFile, err := os.CreateTemp("", "test*.tmpl")
	assert.NoError(t, err)
	defer os.Remove(tmpFile.Name())

	_, err = tmpFile.Write([]byte("Hello {{ name }}!"))
	assert.NoError(t, err)
	tmpFile.Close()

	args := map[string]interface{}{
		"src":         tmpFile.Name(),
		"dest":        "/tmp/test.conf",
		"_check_mode": true,
		"vars": map[string]interface{}{
			"name": "World",
		},
	}

	mockConn.On("Execute", ctx, "test -e '/tmp/test.conf' && echo EXISTS || echo NOTEXISTS",
		types.ExecuteOptions{}).Return(&types.Result{Success: true, Message: "NOTEXISTS"}, nil)

	mockConn.On("Execute", ctx, "sha256sum '/tmp/test.conf' 2>/dev/null | cut -d' ' -f1",
		types.ExecuteOptions{}).Return(&types.Result{Success: true, Message: ""}, nil)

	result, err := module.Run(ctx, mockConn, args)

	assert.NoError(t, err)
	assert.True(t, result.Success)
	assert.True(t, result.Changed)
	assert.Equal(t, true, result.Data["_check_mode"])

	mockConn.AssertNotCalled(t, "Execute", ctx, mock.MatchedBy(func(cmd string) bool {
		return strings.Contains(cmd, "base64 -d")
	}), types.ExecuteOptions{})
	mockConn.AssertExpectations(t)
}

func TestTemplateModule_CalculateChecksum(t *testing.T) {
	module := NewTemplateModule()

	checksum1 := module.calculateChecksum("test content")
	checksum2 := module.calculateChecksum("test content")
	assert.Equal(t, checksum1, checksum2)
	assert.Len(t, checksum1, 64) // sha256 hex digest

	checksum3 := module.calculateChecksum("different content")
	assert.NotEqual(t, checksum1, checksum3)
}
