package security

import (
	"strings"
	"testing"
)

func TestValidateServerName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		errMsg  string
		wantErr bool
	}{
		// Valid cases
		{name: "simple alphanumeric", input: "server123", wantErr: false},
		{name: "with hyphens", input: "sequential-thinking", wantErr: false},
		{name: "with underscores", input: "my_server", wantErr: false},
		{name: "with dots", input: "fs.v2", wantErr: false},
		{name: "numbers only", input: "123456", wantErr: false},
		{name: "single character", input: "a", wantErr: false},
		{name: "max length 64", input: strings.Repeat("a", 64), wantErr: false},

		// Invalid cases - empty
		{name: "empty string", input: "", wantErr: true, errMsg: "cannot be empty"},

		// Invalid cases - length
		{name: "exceeds max length", input: strings.Repeat("a", 65), wantErr: true, errMsg: "exceeds maximum length"},

		// Invalid cases - invalid characters
		{name: "leading dot", input: ".hidden", wantErr: true, errMsg: "alphanumeric"},
		{name: "leading hyphen", input: "-flag", wantErr: true, errMsg: "alphanumeric"},
		{name: "with spaces", input: "my server", wantErr: true, errMsg: "alphanumeric"},
		{name: "with slashes", input: "my/server", wantErr: true, errMsg: "alphanumeric"},
		{name: "with unicode", input: "server文件", wantErr: true, errMsg: "alphanumeric"},
		{name: "with colon", input: "server:1", wantErr: true, errMsg: "alphanumeric"},
		{name: "with null byte", input: "server\x00", wantErr: true, errMsg: "alphanumeric"},
		{name: "with newline", input: "server\n", wantErr: true, errMsg: "alphanumeric"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateServerName(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ValidateServerName(%q) expected error, got nil", tt.input)
					return
				}
				if tt.errMsg != "" && !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("ValidateServerName(%q) error = %v, want error containing %q", tt.input, err, tt.errMsg)
				}
			} else if err != nil {
				t.Errorf("ValidateServerName(%q) unexpected error = %v", tt.input, err)
			}
		})
	}
}

func TestValidateCommand(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		errMsg  string
		wantErr bool
	}{
		{name: "bare command", input: "npx", wantErr: false},
		{name: "absolute path", input: "/usr/local/bin/server", wantErr: false},
		{name: "windows path with spaces", input: `C:\Program Files\node\npx.cmd`, wantErr: false},
		{name: "empty", input: "", wantErr: true, errMsg: "cannot be empty"},
		{name: "whitespace only", input: "   ", wantErr: true, errMsg: "cannot be empty"},
		{name: "null byte", input: "npx\x00", wantErr: true, errMsg: "null byte"},
		{name: "newline", input: "npx\nrm", wantErr: true, errMsg: "control character"},
		{name: "tab", input: "npx\t", wantErr: true, errMsg: "control character"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCommand(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ValidateCommand(%q) expected error, got nil", tt.input)
					return
				}
				if !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("ValidateCommand(%q) error = %v, want error containing %q", tt.input, err, tt.errMsg)
				}
			} else if err != nil {
				t.Errorf("ValidateCommand(%q) unexpected error = %v", tt.input, err)
			}
		})
	}
}

func TestValidateArgs(t *testing.T) {
	if err := ValidateArgs([]string{"-y", "@modelcontextprotocol/server-filesystem", "/tmp"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateArgs(nil); err != nil {
		t.Errorf("unexpected error for nil args: %v", err)
	}

	err := ValidateArgs([]string{"ok", "bad\x00arg"})
	if err == nil {
		t.Fatal("expected error for null byte argument")
	}
	if !strings.Contains(err.Error(), "argument 1") {
		t.Errorf("error = %v, want it to name argument 1", err)
	}
}

func TestValidateEnvKey(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"PATH", false},
		{"NODE_OPTIONS", false},
		{"", true},
		{"A=B", true},
		{"A\x00", true},
	}

	for _, tt := range tests {
		err := ValidateEnvKey(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateEnvKey(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
		}
	}
}
