package main

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/srg/armctl/internal/arm"
	"github.com/srg/armctl/internal/central"
	"github.com/srg/armctl/internal/manager"
	"github.com/stretchr/testify/assert"
)

func TestFormatUserError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		contains string
	}{
		{"nil", nil, ""},
		{"powered off", &central.StateError{State: central.StatePoweredOff}, "turned off"},
		{"unauthorized", fmt.Errorf("scan: %w", &central.StateError{State: central.StateUnauthorized}), "not authorized"},
		{"unsupported", &central.StateError{State: central.StateUnsupported}, "not supported"},
		{"arm not found", fmt.Errorf("%w: no \"RoboticArm\"", ErrArmNotFound), "advertising"},
		{"connection lost", fmt.Errorf("%w: RoboticArm", ErrConnectionLost), "not connected"},
		{"no link", fmt.Errorf("send: %w", arm.ErrNoLink), "not connected"},
		{"no device", manager.ErrNoDevice, "No arm has been discovered"},
		{"deadline", context.DeadlineExceeded, "Timed out"},
		{"other", errors.New("something odd"), "something odd"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatUserError(tt.err)
			if tt.contains == "" {
				assert.Empty(t, got)
				return
			}
			assert.Contains(t, got, tt.contains)
		})
	}
}

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "v1.2.3", formatVersion("1.2.3"))
	assert.Equal(t, "dev", formatVersion("dev"))
	assert.Equal(t, "", formatVersion(""))
}
