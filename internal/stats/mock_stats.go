package stats

import "github.com/stretchr/testify/mock"

// MockStats records calls made through StatsProvider.
type MockStats struct {
	mock.Mock
}

// NewMockStats accepts registration of the server metrics and any number of
// counter updates.
func NewMockStats() *MockStats {
	m := &MockStats{}
	for _, name := range []string{NumConnections, NumJoins, NumLocksSet} {
		m.On("RegisterMetric", name).Maybe()
	}
	m.On("Incr", mock.Anything).Maybe()
	m.On("Decr", mock.Anything).Maybe()
	return m
}

func (m *MockStats) Incr(name string) {
	m.Called(name)
}

func (m *MockStats) Decr(name string) {
	m.Called(name)
}

func (m *MockStats) RegisterMetric(name string) {
	m.Called(name)
}

func (m *MockStats) Run() {
	m.Called()
}
