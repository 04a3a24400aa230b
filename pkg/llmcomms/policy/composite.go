package policy

// Composite chains a sequence of wrapping policies around a terminal
// Step, applied outermost-first: Composite{Timeout.Wrap, Retry.Wrap}.Wrap(fn)
// runs Timeout around Retry around fn, so one deadline spans the whole
// retry loop. Composite{Retry.Wrap, Timeout.Wrap} gives each attempt its
// own fresh deadline instead.
type Composite []func(Step) Step

// Wrap applies each wrapper in order, last-listed closest to fn.
func (c Composite) Wrap(fn Step) Step {
	wrapped := fn
	for i := len(c) - 1; i >= 0; i-- {
		wrapped = c[i](wrapped)
	}
	return wrapped
}
