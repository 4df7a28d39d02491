package fulfillment

import "fmt"

const (
	// TestMarker prefixes identifiers of test orders
	TestMarker = "test"
	// MaxGroups is the number of group suffix letters available (A-Z)
	MaxGroups = 26

	singleGroupSuffix = '0'
	orderLabelSuffix  = 'Z'
)

// BuildGroupIdentifier derives the tracking identifier of one group.
// The sequence is zero padded to 7 digits, prefixed with TestMarker for test
// orders and suffixed with '0' for single-group orders or 'A'+groupIndex.
func BuildGroupIdentifier(sequence int64, isTest bool, groupIndex, groupCount int) (string, error) {
	if err := checkSequence(sequence, groupCount); err != nil {
		return "", err
	}
	if groupIndex < 0 || groupIndex >= groupCount {
		return "", Validation(ErrInvalidIdentifier, "group index %d out of range for %d groups", groupIndex, groupCount)
	}

	suffix := byte(singleGroupSuffix)
	if groupCount > 1 {
		suffix = byte('A' + groupIndex)
	}
	return formatIdentifier(sequence, isTest, suffix), nil
}

// BuildOrderLabel derives the order-level label: '0' for single-group orders, 'Z' otherwise.
func BuildOrderLabel(sequence int64, isTest bool, groupCount int) (string, error) {
	if err := checkSequence(sequence, groupCount); err != nil {
		return "", err
	}
	suffix := byte(singleGroupSuffix)
	if groupCount > 1 {
		suffix = orderLabelSuffix
	}
	return formatIdentifier(sequence, isTest, suffix), nil
}

func checkSequence(sequence int64, groupCount int) error {
	if sequence <= 0 {
		return Validation(ErrInvalidIdentifier, "sequence must be positive, got %d", sequence)
	}
	if groupCount < 1 {
		return Validation(ErrInvalidIdentifier, "group count must be at least 1, got %d", groupCount)
	}
	if groupCount > MaxGroups {
		return Invariant(ErrTooManyGroups, "%d groups", groupCount)
	}
	return nil
}

func formatIdentifier(sequence int64, isTest bool, suffix byte) string {
	prefix := ""
	if isTest {
		prefix = TestMarker
	}
	return fmt.Sprintf("%s%07d%c", prefix, sequence, suffix)
}
