package ids_test

import (
	"testing"

	"github.com/pybrook/pybrook/pkg/ids"
	"github.com/stretchr/testify/require"
)

func TestFormatParseRoundTrip(t *testing.T) {
	raw := ids.Format("V1", ":", 42)
	require.Equal(t, "V1:42", raw)

	parsed, err := ids.Parse(raw, ":")
	require.NoError(t, err)
	require.Equal(t, ids.MessageID{SourceID: "V1", Seq: 42}, parsed)
}

func TestParseRejectsMissingSeparator(t *testing.T) {
	_, err := ids.Parse("V142", ":")
	require.Error(t, err)
}

func TestParseRejectsNonNumericSeq(t *testing.T) {
	_, err := ids.Parse("V1:abc", ":")
	require.Error(t, err)
}

func TestValidateSeparator(t *testing.T) {
	require.NoError(t, ids.ValidateSeparator(":"))
	require.Error(t, ids.ValidateSeparator(""))
	require.Error(t, ids.ValidateSeparator("::"))
}
