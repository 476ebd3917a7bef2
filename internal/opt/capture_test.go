package opt

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCaptureRestoresOutput(t *testing.T) {
	var outer bytes.Buffer
	prev := SetOutput(&outer)
	defer SetOutput(prev)

	text, err := Capture(func() error {
		fmt.Fprint(Diagnostics, "inside")
		return errors.New("solver failed")
	})
	assert.Equal(t, "inside", text)
	assert.EqualError(t, err, "solver failed")

	fmt.Fprint(Diagnostics, "outside")
	assert.Equal(t, "outside", outer.String())
}

func TestCaptureRestoresOutputAfterPanic(t *testing.T) {
	var outer bytes.Buffer
	prev := SetOutput(&outer)
	defer SetOutput(prev)

	func() {
		defer func() { _ = recover() }()
		_, _ = Capture(func() error {
			fmt.Fprint(Diagnostics, "lost")
			panic("solver crashed")
		})
	}()

	fmt.Fprint(Diagnostics, "restored")
	assert.Equal(t, "restored", outer.String())

	// the capture lock was released
	text, err := Capture(func() error { return nil })
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestCaptureIsExclusive(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	firstDone := make(chan string)

	go func() {
		text, _ := Capture(func() error {
			close(entered)
			<-release
			fmt.Fprint(Diagnostics, "first")
			return nil
		})
		firstDone <- text
	}()
	<-entered

	secondDone := make(chan string)
	go func() {
		text, _ := Capture(func() error {
			fmt.Fprint(Diagnostics, "second")
			return nil
		})
		secondDone <- text
	}()

	select {
	case <-secondDone:
		t.Fatal("second capture ran while the first was active")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	assert.Equal(t, "first", <-firstDone)
	assert.Equal(t, "second", <-secondDone)
}
