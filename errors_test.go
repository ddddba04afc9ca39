package authgate

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	t.Run("HTTP mirror codes", func(t *testing.T) {
		status, reason := Classify(404)
		assert.Equal(t, 404, status)
		assert.Equal(t, "Not Found", reason)
	})

	t.Run("catalog codes", func(t *testing.T) {
		status, reason := Classify(CodeLoginBadCredentials)
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.NotEmpty(t, reason)

		status, _ = Classify(CodeLoginNoPermission)
		assert.Equal(t, http.StatusForbidden, status)
	})

	t.Run("unknown code falls back without panicking", func(t *testing.T) {
		for _, code := range []int{0, -1, 777777, 99, 600} {
			status, reason := Classify(code)
			assert.Equal(t, http.StatusInternalServerError, status, "code %v", code)
			assert.NotEmpty(t, reason, "code %v", code)
		}
	})

	t.Run("HTTP-range code with no status text", func(t *testing.T) {
		status, reason := Classify(599)
		assert.Equal(t, 599, status)
		assert.NotEmpty(t, reason)
	})
}

func TestBestCodeShapes(t *testing.T) {
	t.Run("declared ErrorValue", func(t *testing.T) {
		ev := NewErrorValue(DomainLogin, CodeLoginUserNotFound, "")
		assert.Equal(t, CodeLoginUserNotFound, BestCode(ev))
		assert.NotEmpty(t, BestReason(ev))
	})

	t.Run("transport abort", func(t *testing.T) {
		assert.Equal(t, http.StatusTeapot, BestCode(Abort(http.StatusTeapot, "")))
		assert.Equal(t, "I'm a teapot", BestReason(Abort(http.StatusTeapot, "")))
	})

	t.Run("sentinel error", func(t *testing.T) {
		assert.Equal(t, CodeLoginBadCredentials, BestCode(ErrInvalidPassword))
		assert.Equal(t, CodeLoginUserNotFound, BestCode(NewError(ErrIdentityNotFound, "details")))
	})

	t.Run("untyped error degrades to unknown", func(t *testing.T) {
		err := errors.New("socket closed")
		assert.Equal(t, CodeUnknown, BestCode(err))
		assert.Equal(t, "socket closed", BestReason(err))
	})

	t.Run("nil", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, BestCode(nil))
		assert.Nil(t, AsErrorValue(nil))
	})
}

func TestWrap(t *testing.T) {
	t.Run("attaches underlying cause", func(t *testing.T) {
		outer := NewErrorValue(DomainLogin, CodeLoginFailed, "")
		wrapped := Wrap(outer, errors.New("db timeout"))
		assert.Equal(t, CodeLoginFailed, wrapped.Code)
		assert.NotNil(t, wrapped.Underlying)
		assert.Equal(t, CodeUnknown, wrapped.Underlying.Code)
		// Originals are untouched
		assert.Nil(t, outer.Underlying)
	})

	t.Run("errors.Is sees the chain", func(t *testing.T) {
		outer := Wrap(NewErrorValue(DomainLogin, CodeLoginFailed, ""), ErrConnect)
		var ev *ErrorValue
		assert.True(t, errors.As(outer, &ev))
	})

	t.Run("depth bound holds under pathological wrapping", func(t *testing.T) {
		ev := NewErrorValue(DomainMisc, CodeUnknown, "start")
		for i := 0; i < 100; i++ {
			ev = Wrap(ev, errors.New("again"))
		}
		assert.LessOrEqual(t, len(ev.UnderlyingChain()), maxUnderlyingDepth)
		// Error() must terminate
		assert.NotEmpty(t, ev.Error())
	})
}

func TestRedirectClassification(t *testing.T) {
	assert.True(t, isRedirectCode(303))
	assert.True(t, isRedirectCode(301))
	assert.False(t, isRedirectCode(404))
	assert.False(t, isRedirectCode(2503))
}
