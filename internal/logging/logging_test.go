package logging

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestSetup_Level(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	Setup("prod", "debug", "test")
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	Setup("prod", "chatty", "test")
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}
