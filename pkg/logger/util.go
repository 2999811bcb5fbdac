package logger

import "github.com/sirupsen/logrus"

// Context is a set of log fields attached to an entry.
type Context logrus.Fields

// Fields converts the context for use with logrus.WithFields.
func (c Context) Fields() logrus.Fields {
	return logrus.Fields(c)
}

// MergeContexts returns a new Context holding the fields of all xs. Later fields win.
func MergeContexts(xs ...Context) Context {
	ys := Context{}
	for _, x := range xs {
		for k, v := range x {
			ys[k] = v
		}
	}
	return ys
}
