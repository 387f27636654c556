package csvparser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLeads(t *testing.T) {
	input := strings.Join([]string{
		"Phone,FirstName,Status,Labels",
		"+91 98765 43210,Asha,customer,\"workshop, vip\"",
		"9876543211,Ravi,,",
		"123,TooShort,,",
	}, "\n")

	leads, skipped, err := ParseLeads(strings.NewReader(input), 0)
	require.NoError(t, err)

	require.Len(t, leads, 2)
	assert.Equal(t, 1, skipped)

	assert.Equal(t, "919876543210", leads[0].Phone)
	assert.Equal(t, "Asha", leads[0].FirstName)
	assert.Equal(t, "customer", leads[0].Status)
	assert.Equal(t, []string{"workshop", "vip"}, leads[0].Labels)

	assert.Equal(t, "919876543211", leads[1].Phone)
	assert.Equal(t, "lead", leads[1].Status)
	assert.Empty(t, leads[1].Labels)
}

func TestParseLeadsPhoneColumnRequired(t *testing.T) {
	_, _, err := ParseLeads(strings.NewReader("Name\nAsha"), 0)
	assert.EqualError(t, err, "csv must contain a Phone column")
}

func TestParseLeadsRejectsEmptyFile(t *testing.T) {
	_, _, err := ParseLeads(strings.NewReader("Phone\n123\n"), 0)
	assert.Error(t, err)
}

func TestParseLeadsMaxRows(t *testing.T) {
	input := "Phone\n9876543210\n9876543211\n9876543212\n"
	leads, _, err := ParseLeads(strings.NewReader(input), 2)
	require.NoError(t, err)
	assert.Len(t, leads, 2)
}
