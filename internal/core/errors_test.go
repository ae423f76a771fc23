package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("stage failed: %w", New(KindPermission, "not root"))

	assert.True(t, errors.Is(err, &Error{Kind: KindPermission}))
	assert.False(t, errors.Is(err, &Error{Kind: KindNetwork}))
	assert.Equal(t, KindPermission, KindOf(err))
	assert.True(t, IsKind(err, KindPermission))
}

func TestWithStageKeepsExistingStage(t *testing.T) {
	err := &Error{Kind: KindRuntime, Stage: "install-docker"}
	got := WithStage(err, "launch-services")
	assert.Equal(t, "install-docker", stageOf(got))

	plain := WithStage(errors.New("boom"), "write-compose")
	assert.Equal(t, "write-compose", stageOf(plain))
	assert.Equal(t, KindRuntime, KindOf(plain))
	assert.Nil(t, WithStage(nil, "x"))
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"plain error", errors.New("x"), 1},
		{"configuration", New(KindConfiguration, "bad cidr"), 2},
		{"dependency", New(KindDependency, "no apt"), 3},
		{"permission", New(KindPermission, "not root"), 4},
		{"network", New(KindNetwork, "pull"), 5},
		{"filesystem", New(KindFilesystem, "disk"), 6},
		{"runtime propagates", &Error{Kind: KindRuntime, ExitCode: 100}, 100},
		{"runtime without code", &Error{Kind: KindRuntime}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestErrorMessage(t *testing.T) {
	err := &Error{
		Kind:      KindNetwork,
		Stage:     "install-docker",
		Command:   "curl -fsSL https://get.docker.com",
		ExitCode:  28,
		Attempts:  3,
		Exhausted: true,
	}
	msg := err.Error()
	assert.Contains(t, msg, "[network]")
	assert.Contains(t, msg, "install-docker")
	assert.Contains(t, msg, "exited 28")
	assert.Contains(t, msg, "exhausted retries after 3 attempts")
}

func TestClassifyExit(t *testing.T) {
	tests := []struct {
		code      int
		retryable bool
		want      Class
	}{
		{127, true, ClassPermanent},
		{13, true, ClassPermanent},
		{126, false, ClassPermanent},
		{28, false, ClassTransient},
		{124, false, ClassTransient},
		{100, false, ClassPermanent},
		{100, true, ClassTransient},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d/%v", tt.code, tt.retryable), func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyExit(tt.code, tt.retryable))
		})
	}
}

func TestKindForExit(t *testing.T) {
	assert.Equal(t, KindDependency, KindForExit(127, false))
	assert.Equal(t, KindPermission, KindForExit(13, false))
	assert.Equal(t, KindNetwork, KindForExit(28, true))
	assert.Equal(t, KindRuntime, KindForExit(28, false))
	assert.Equal(t, KindRuntime, KindForExit(1, true))
}

func stageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Stage
	}
	return ""
}
