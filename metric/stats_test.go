package metric

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCountersUnderConcurrency(t *testing.T) {
	s := NewStats()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(depth int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				s.AddState(depth)
				s.AddTransitions(2)
			}
		}(w % 3)
	}
	wg.Wait()

	assert.Equal(t, 800, s.States())
	assert.Equal(t, 1600, s.Transitions())
}

func TestSummaryAndRate(t *testing.T) {
	s := NewStats()
	s.AddState(0)
	s.AddState(1)
	s.AddTransitions(3)
	s.AddTerminal()
	s.AddDeadlock()
	s.ObserveFrontier(5)
	s.ObserveFrontier(2)

	sum := s.Summary()
	assert.Contains(t, sum, "states=2")
	assert.Contains(t, sum, "transitions=3")
	assert.Contains(t, sum, "terminals=1")
	assert.Contains(t, sum, "deadlocks=1")
	assert.Contains(t, sum, "maxFrontier=5")
	assert.GreaterOrEqual(t, s.Rate(), 0.0)
}

func TestWriteCSVOrderedByDepth(t *testing.T) {
	s := NewStats()
	s.AddState(2)
	s.AddState(0)
	s.AddState(0)
	s.AddState(1)

	var buf bytes.Buffer
	assert.NoError(t, s.WriteCSV(&buf))
	assert.Equal(t, "depth,states\n0,2\n1,1\n2,1\n", buf.String())
}
