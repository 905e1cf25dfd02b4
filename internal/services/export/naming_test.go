package export

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestObjectName(t *testing.T) {
	at := time.Date(2026, 3, 5, 9, 7, 2, 0, time.UTC)
	assert.Equal(t, "EmployeeNavigator/2026/03/05/benefits_20260305_090702.csv", ObjectName("EmployeeNavigator", at))
}

func TestObjectName_ZeroPadding(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "EmployeeNavigator/2026/01/01/benefits_20260101_000000.csv", ObjectName("EmployeeNavigator", at))
}
