package summarizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantLimit int
		wantOK    bool
	}{
		{"bare command", "#resumo", 0, true},
		{"count argument", "#resumo 5", 5, true},
		{"surrounding whitespace", "  #resumo   10  ", 10, true},
		{"non-numeric argument", "#resumo abc", 0, true},
		{"zero", "#resumo 0", 0, true},
		{"negative", "#resumo -3", 0, true},
		{"trailing garbage", "#resumo 5abc", 0, true},
		{"extra words ignored", "#resumo 20 por favor", 20, true},
		{"newline separator", "#resumo\n7", 7, true},
		{"different command", "#resumos", 0, false},
		{"not first token", "oi #resumo", 0, false},
		{"case sensitive", "#RESUMO", 0, false},
		{"empty", "", 0, false},
		{"blank", "   ", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limit, ok := ParseCommand(tt.body, DefaultCommand)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantLimit, limit)
		})
	}
}

func TestSummaryRequestMode(t *testing.T) {
	assert.Equal(t, ModeTimeWindow, SummaryRequest{}.Mode())
	assert.Equal(t, ModeTimeWindow, SummaryRequest{Limit: -1}.Mode())
	assert.Equal(t, ModeCount, SummaryRequest{Limit: 3}.Mode())

	req := SummaryRequest{Trigger: msg("t", "Ana", "#resumo", 42)}
	assert.Equal(t, baseTime.Unix()+42, req.TriggerTimestamp())
}
