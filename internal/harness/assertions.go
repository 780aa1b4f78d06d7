package harness

import (
	"fmt"
	"strings"
)

// EvaluateAssertions checks every assertion against the result and returns
// one message per failure. Assertions see the whole trace, across runs, in
// execution order.
func EvaluateAssertions(res *Result, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertSourceCount:
			err = assertSourceCount(res, &a)
		case AssertSourceOrder:
			err = assertSourceOrder(res, &a)
		case AssertFinalMask:
			err = assertFinalMask(res, &a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d] (%s): %v", i, a.Type, err))
		}
	}
	return failures
}

// sourcesOf collects the source of every event for one product, across all
// runs in order.
func sourcesOf(res *Result, product string) []string {
	var out []string
	for _, run := range res.Runs {
		for _, ev := range run.Events {
			if ev.Product == product {
				out = append(out, ev.Source)
			}
		}
	}
	return out
}

func assertSourceCount(res *Result, a *Assertion) error {
	n := 0
	for _, src := range sourcesOf(res, a.Product) {
		if src == a.Source {
			n++
		}
	}
	if n != a.Count {
		return fmt.Errorf("product %s has %d %s events, want %d",
			a.Product, n, a.Source, a.Count)
	}
	return nil
}

func assertSourceOrder(res *Result, a *Assertion) error {
	got := sourcesOf(res, a.Product)
	if len(got) != len(a.Sources) {
		return fmt.Errorf("product %s resolved %d times (%s), want %d (%s)",
			a.Product, len(got), strings.Join(got, ", "),
			len(a.Sources), strings.Join(a.Sources, ", "))
	}
	for i := range got {
		if got[i] != a.Sources[i] {
			return fmt.Errorf("product %s resolution %d came from %s, want %s",
				a.Product, i, got[i], a.Sources[i])
		}
	}
	return nil
}

func assertFinalMask(res *Result, a *Assertion) error {
	if len(res.Mask) != len(a.Mask) {
		return fmt.Errorf("final mask has %d slits (%s), want %d (%s)",
			len(res.Mask), strings.Join(res.Mask, ", "),
			len(a.Mask), strings.Join(a.Mask, ", "))
	}
	for i := range res.Mask {
		if res.Mask[i] != a.Mask[i] {
			return fmt.Errorf("slit %d mask is %s, want %s", i, res.Mask[i], a.Mask[i])
		}
	}
	return nil
}
