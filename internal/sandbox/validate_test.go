package sandbox

import (
	"testing"

	"deanalyse/domain/core"

	"github.com/stretchr/testify/assert"
)

func TestValidateImports(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		wantErr bool
	}{
		{"allowed", "package main\n\nimport (\n\t\"fmt\"\n\t\"frame\"\n)\n", false},
		{"single", "package main\nimport \"math\"\n", false},
		{"none", "package main\nvar result = 1\n", false},
		{"os", "package main\nimport \"os\"\n", true},
		{"aliased exec", "package main\nimport x \"os/exec\"\n", true},
		{"net in block", "package main\nimport (\n\t\"strings\"\n\t\"net/http\"\n)\n", true},
		{"unsafe", "package main\nimport \"unsafe\"\n", true},
		{"not main", "package evil\n", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateImports(tt.code)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateImportsForbiddenSentinel(t *testing.T) {
	err := validateImports("package main\nimport \"syscall\"\n")
	assert.ErrorIs(t, err, core.ErrForbiddenCode)
	assert.ErrorContains(t, err, "syscall")
}

func TestWrapCode(t *testing.T) {
	assert.Equal(t, "package main\n\nvar result = 1", wrapCode("var result = 1"))

	withPkg := "// analysis\npackage main\nvar result = 1"
	assert.Equal(t, withPkg, wrapCode(withPkg))
}
