package airquality

import (
	"sync"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

func TestStoreSentinel(t *testing.T) {
	s := NewStore()
	_, ok := s.Current()
	test.That(t, ok, test.ShouldBeFalse)
}

func TestStoreSequence(t *testing.T) {
	s := NewStore()
	for k := uint64(0); k < 10; k++ {
		err := s.Publish(Reading{SequenceNumber: k, CO2: int(400 + k)})
		test.That(t, err, test.ShouldBeNil)
		cur, ok := s.Current()
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, cur.SequenceNumber, test.ShouldEqual, k)
		test.That(t, cur.CO2, test.ShouldEqual, 400+int(k))
	}
}

func TestStoreRejectsGapsAndDuplicates(t *testing.T) {
	s := NewStore()
	err := s.Publish(Reading{SequenceNumber: 1})
	test.That(t, errors.Is(err, ErrOutOfSequence), test.ShouldBeTrue)
	_, ok := s.Current()
	test.That(t, ok, test.ShouldBeFalse)

	test.That(t, s.Publish(Reading{SequenceNumber: 0, CO2: 500}), test.ShouldBeNil)
	err = s.Publish(Reading{SequenceNumber: 0, CO2: 600})
	test.That(t, errors.Is(err, ErrOutOfSequence), test.ShouldBeTrue)
	err = s.Publish(Reading{SequenceNumber: 2, CO2: 600})
	test.That(t, errors.Is(err, ErrOutOfSequence), test.ShouldBeTrue)

	cur, _ := s.Current()
	test.That(t, cur.CO2, test.ShouldEqual, 500)
}

func TestStoreConcurrentReaders(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				if r, ok := s.Current(); ok {
					// Every field of a published Reading is derived from its
					// sequence number, so a torn read would show up here.
					if r.CO2 != int(r.SequenceNumber) || r.Temperature != float64(r.SequenceNumber) {
						t.Errorf("torn reading: %+v", r)
						return
					}
				}
			}
		}()
	}
	for k := uint64(0); k < 1000; k++ {
		test.That(t, s.Publish(Reading{SequenceNumber: k, CO2: int(k), Temperature: float64(k)}), test.ShouldBeNil)
	}
	wg.Wait()
}
