package task

import "context"

// Series runs units one after another. The first failure settles the series and
// the remaining units are never started.
func Series(units ...*Unit) *Unit {
	children := append([]*Unit(nil), units...)
	composite := &Unit{name: seriesName, kind: KindComposite}
	composite.composite = func(ctx context.Context, name string) error {
		if len(children) == 0 {
			return &ConfigError{Task: name, Err: ErrEmptyComposite}
		}
		for cursor := 0; cursor < len(children); cursor++ {
			if err := children[cursor].Run(ctx); err != nil {
				return err
			}
		}
		return nil
	}
	return composite
}

// Parallel starts every unit at once. It settles with the first observed failure,
// or with success once every unit succeeded. Started units are never cancelled;
// outcomes arriving after the composite settled only reach the observer.
func Parallel(units ...*Unit) *Unit {
	children := append([]*Unit(nil), units...)
	composite := &Unit{name: parallelName, kind: KindComposite}
	composite.composite = func(ctx context.Context, name string) error {
		if len(children) == 0 {
			return &ConfigError{Task: name, Err: ErrEmptyComposite}
		}
		// Buffered so children finishing after an early failure never block.
		results := make(chan error, len(children))
		for _, child := range children {
			go func(child *Unit) {
				results <- child.Run(ctx)
			}(child)
		}
		for succeeded := 0; succeeded < len(children); {
			select {
			case err := <-results:
				if err != nil {
					return err
				}
				succeeded++
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}
	return composite
}
