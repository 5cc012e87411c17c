package tool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srinidhi621/knowledge-atlas/models"
)

func echoTool(name string, repairable bool) Tool {
	def := models.ToolDefinition{
		Name:        name,
		Description: "echoes its query",
		ParameterSchema: ObjectSchema(map[string]interface{}{
			"query": map[string]interface{}{"type": "string", "minLength": 1},
			"limit": map[string]interface{}{"type": "integer", "minimum": 1},
		}, "query"),
		Repairable: repairable,
	}
	return New(def, func(ctx context.Context, args map[string]interface{}, nb models.NotebookContext) (models.ToolResult, error) {
		return models.NewToolResult(args)
	})
}

func TestRegisterRejectsDuplicateNames(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(echoTool("search_documents", false)))

	err := reg.Register(echoTool("search_documents", true))
	var dup *DuplicateToolError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "search_documents", dup.Name)
	assert.Equal(t, 1, reg.Len())
}

func TestListPreservesRegistrationOrder(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"describe_tables", "run_sql", "search_documents"} {
		require.NoError(t, reg.Register(echoTool(name, name == "run_sql")))
	}

	defs := reg.List()
	require.Len(t, defs, 3)
	assert.Equal(t, "describe_tables", defs[0].Name)
	assert.Equal(t, "run_sql", defs[1].Name)
	assert.True(t, defs[1].Repairable)
	assert.Equal(t, "search_documents", defs[2].Name)
}

func TestListReturnsCopies(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(echoTool("search_documents", false)))

	defs := reg.List()
	defs[0].ParameterSchema["type"] = "array"

	again, ok := reg.Definition("search_documents")
	require.True(t, ok)
	assert.Equal(t, "object", again.ParameterSchema["type"])
}

func TestGetUnknownToolIsNotAnError(t *testing.T) {
	reg := NewRegistry()
	got, ok := reg.Get("missing")
	assert.False(t, ok)
	assert.Nil(t, got)

	var nilReg *Registry
	_, ok = nilReg.Get("missing")
	assert.False(t, ok)
}

func TestSealClosesRegistration(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(echoTool("a", false)))
	reg.Seal()
	assert.True(t, reg.Sealed())

	err := reg.Register(echoTool("b", false))
	assert.ErrorIs(t, err, ErrRegistrySealed)
	_, ok := reg.Get("a")
	assert.True(t, ok)
}

func TestRegisterRejectsBadSchema(t *testing.T) {
	reg := NewRegistry()
	bad := New(models.ToolDefinition{
		Name:            "broken",
		ParameterSchema: map[string]interface{}{"type": 42},
	}, nil)
	require.Error(t, reg.Register(bad))

	unnamed := New(models.ToolDefinition{}, nil)
	assert.ErrorIs(t, reg.Register(unnamed), ErrToolNameEmpty)
}

func TestValidateArguments(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(echoTool("search_documents", false)))

	cases := []struct {
		name    string
		args    map[string]interface{}
		wantErr bool
	}{
		{name: "valid", args: map[string]interface{}{"query": "revenue", "limit": 5}},
		{name: "float that is an integer", args: map[string]interface{}{"query": "revenue", "limit": 5.0}},
		{name: "missing required", args: map[string]interface{}{"limit": 5}, wantErr: true},
		{name: "wrong type", args: map[string]interface{}{"query": 7}, wantErr: true},
		{name: "extra property", args: map[string]interface{}{"query": "q", "sql": "select 1"}, wantErr: true},
		{name: "below minimum", args: map[string]interface{}{"query": "q", "limit": 0}, wantErr: true},
		{name: "nil arguments", args: nil, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := reg.ValidateArguments("search_documents", tc.args)
			if !tc.wantErr {
				assert.NoError(t, err)
				return
			}
			var schemaErr *SchemaError
			assert.ErrorAs(t, err, &schemaErr)
		})
	}

	err := reg.ValidateArguments("missing", nil)
	assert.True(t, errors.Is(err, ErrUnknownTool))
}

func TestChecksumTracksCatalog(t *testing.T) {
	a := NewRegistry()
	a.MustRegister(echoTool("x", false), echoTool("y", true))
	b := NewRegistry()
	b.MustRegister(echoTool("x", false), echoTool("y", true))
	c := NewRegistry()
	c.MustRegister(echoTool("y", true), echoTool("x", false))

	sumA, err := a.Checksum()
	require.NoError(t, err)
	sumB, err := b.Checksum()
	require.NoError(t, err)
	sumC, err := c.Checksum()
	require.NoError(t, err)

	assert.Len(t, sumA, 64)
	assert.Equal(t, sumA, sumB)
	assert.NotEqual(t, sumA, sumC)
}

func TestExecutionErrorMessage(t *testing.T) {
	err := Failf("run_sql", "sql_error", "syntax error at %q", "FORM")
	assert.Equal(t, `run_sql: sql_error: syntax error at "FORM"`, err.Error())

	wrapped := &ExecutionError{Tool: "search_documents", Err: context.DeadlineExceeded}
	assert.ErrorIs(t, wrapped, context.DeadlineExceeded)
	assert.Equal(t, "search_documents: context deadline exceeded", wrapped.Error())
}
