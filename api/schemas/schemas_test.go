// File: api/schemas/schemas_test.go
package schemas_test

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mgrantlabs/mgrant-e2e/api/schemas"
)

// TestWireJSONTags verifies the json tags on the wire types. The persisted
// auth snapshot and the JSON report both depend on these staying stable
// across releases, so a rename here is a breaking change.
func TestWireJSONTags(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name         string
		structRef    interface{}
		expectedTags map[string]string
	}{
		{
			name:      "Cookie",
			structRef: schemas.Cookie{},
			expectedTags: map[string]string{
				"Name":     "name",
				"Value":    "value",
				"Domain":   "domain",
				"Path":     "path",
				"Expires":  "expires",
				"HTTPOnly": "httpOnly",
				"Secure":   "secure",
				"SameSite": "sameSite,omitempty",
			},
		},
		{
			name:      "ExecutionResult",
			structRef: schemas.ExecutionResult{},
			expectedTags: map[string]string{
				"StepNumber":     "stepNumber",
				"Module":         "module",
				"TestName":       "testName",
				"Status":         "status",
				"Timestamp":      "timestamp",
				"Details":        "details,omitempty",
				"ScreenshotPath": "screenshotPath,omitempty",
			},
		},
		{
			name:      "RunStats",
			structRef: schemas.RunStats{},
			expectedTags: map[string]string{
				"Total":       "total",
				"Passed":      "passed",
				"Failed":      "failed",
				"SuccessRate": "successRate",
				"Duration":    "duration",
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			st := reflect.TypeOf(tc.structRef)
			for fieldName, wantTag := range tc.expectedTags {
				field, ok := st.FieldByName(fieldName)
				require.True(t, ok, "field %s missing from %s", fieldName, tc.name)
				assert.Equal(t, wantTag, field.Tag.Get("json"), "json tag for %s.%s", tc.name, fieldName)
			}
		})
	}
}

func TestSharedData(t *testing.T) {
	t.Parallel()

	bag := schemas.NewSharedData()
	assert.Equal(t, 0, bag.Len())

	_, ok := bag.Get("organisation.name")
	assert.False(t, ok)
	assert.Empty(t, bag.GetString("organisation.name"))

	bag.Set("organisation.name", "Wildlife Trust")
	bag.Set("organisation.id", 42)

	v, ok := bag.Get("organisation.name")
	require.True(t, ok)
	assert.Equal(t, "Wildlife Trust", v)

	// Non-string values read as "" through the typed accessor.
	assert.Empty(t, bag.GetString("organisation.id"))

	// Last writer wins.
	bag.Set("organisation.name", "Harbour Foundation")
	assert.Equal(t, "Harbour Foundation", bag.GetString("organisation.name"))
	assert.Equal(t, 2, bag.Len())
}

func TestRunContextURL(t *testing.T) {
	t.Parallel()

	rc := &schemas.RunContext{BaseURL: "http://localhost:3000/"}

	assert.Equal(t, "http://localhost:3000/", rc.URL(""))
	assert.Equal(t, "http://localhost:3000/login", rc.URL("/login"))
	assert.Equal(t, "http://localhost:3000/grants", rc.URL("grants"))

	rc.BaseURL = "https://staging.mgrant.io"
	assert.Equal(t, "https://staging.mgrant.io/dashboard", rc.URL("dashboard"))
}
