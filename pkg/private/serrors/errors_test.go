// Copyright 2024 The Flowplane Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package serrors_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flowplane/flowplane/pkg/private/serrors"
)

var errSentinel = errors.New("sentinel")

func TestNew(t *testing.T) {
	err := serrors.New("something failed", "port", 3, "name", "tap0")
	assert.Contains(t, err.Error(), "something failed")
	assert.Contains(t, err.Error(), "name=tap0")
	assert.Contains(t, err.Error(), "port=3")

	// Two errors with the same message are still distinct values.
	other := serrors.New("something failed")
	assert.False(t, errors.Is(err, other))
	assert.True(t, errors.Is(err, err))
}

func TestWrap(t *testing.T) {
	err := serrors.Wrap("reading config", errSentinel, "file", "x.toml")
	assert.True(t, errors.Is(err, errSentinel))
	assert.Contains(t, err.Error(), "reading config")
	assert.Contains(t, err.Error(), "file=x.toml")
	assert.Contains(t, err.Error(), "sentinel")
}

func TestJoin(t *testing.T) {
	cause := errors.New("root cause")

	err := serrors.Join(errSentinel, cause, "key", "value")
	assert.True(t, errors.Is(err, errSentinel))
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "sentinel")
	assert.Contains(t, err.Error(), "key=value")

	assert.True(t, errors.Is(serrors.Join(errSentinel, nil), errSentinel))
	assert.NoError(t, serrors.Join(nil, nil))
}

func TestList(t *testing.T) {
	assert.NoError(t, serrors.List{}.ToError())

	l := serrors.List{errors.New("a"), errors.New("b")}
	err := l.ToError()
	assert.Error(t, err)
	assert.Equal(t, "[ a; b ]", err.Error())
}

type timeoutError struct{}

func (timeoutError) Error() string { return "timed out" }
func (timeoutError) Timeout() bool { return true }

func TestIsTimeout(t *testing.T) {
	assert.True(t, serrors.IsTimeout(timeoutError{}))
	assert.True(t, serrors.IsTimeout(serrors.Wrap("op failed", timeoutError{})))
	assert.False(t, serrors.IsTimeout(errSentinel))
	assert.False(t, serrors.IsTimeout(fmt.Errorf("wrapped: %w", errSentinel)))
}
