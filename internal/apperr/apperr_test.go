package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"validation", Validation("name", "required"), KindValidation},
		{"not found", NotFound("pipeline", "abc"), KindNotFound},
		{"unavailable", Unavailable("workflow.CreatePipeline", errors.New("connection refused")), KindBackendUnavailable},
		{"rejected", Rejected("workflow.CreatePipeline", 400, []byte(`{"errors":{}}`)), KindBackendRejected},
		{"not materialized", NotMaterialized("run", "abc"), KindNotMaterialized},
		{"conflict", Conflict("complete is terminal"), KindConflict},
		{"wrapped", fmt.Errorf("outer: %w", NotFound("run", "x")), KindNotFound},
		{"plain", errors.New("boom"), KindInternal},
		{"nil", nil, KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestRejectedKeepsBodyVerbatim(t *testing.T) {
	body := []byte(`{"errors": {"uuids": {"0": ["String does not match expected pattern."]}}, "message": "Unable to search pipeline"}`)
	err := Rejected("workflow.SearchPipelines", 400, body)

	e, ok := As(fmt.Errorf("wrap: %w", err))
	assert.True(t, ok)
	assert.Equal(t, 400, e.Status)
	assert.JSONEq(t, string(body), string(e.Body))

	// mutating the caller's slice must not leak into the error
	body[0] = 'x'
	assert.Equal(t, byte('{'), e.Body[0])
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "name: required", Validation("name", "required").Error())
	assert.Equal(t, "services.Create: dial tcp: refused",
		Unavailable("services.Create", errors.New("dial tcp: refused")).Error())
	assert.Equal(t, "not_found", (&Error{Kind: KindNotFound}).Error())
}

func TestWithOp(t *testing.T) {
	err := WithOp(NotFound("run", "x"), "services.GetRun")
	e, _ := As(err)
	assert.Equal(t, "services.GetRun", e.Op)

	// an existing op is preserved
	err = WithOp(Unavailable("workflow.GetRun", errors.New("eof")), "services.GetRun")
	e, _ = As(err)
	assert.Equal(t, "workflow.GetRun", e.Op)

	plain := errors.New("plain")
	assert.Equal(t, plain, WithOp(plain, "op"))
}

func TestIs(t *testing.T) {
	assert.True(t, Is(Conflict("x"), KindConflict))
	assert.False(t, Is(nil, KindInternal))
	assert.Equal(t, "backend_rejected", KindBackendRejected.String())
}
