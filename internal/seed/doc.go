// Package seed generates synthetic APM error documents and writes them to
// the error store so a monitor deployment can be exercised without real
// traffic. Documents carry labels.test and labels.mock_data markers for
// later cleanup.
package seed
