// Package intake pre-screens proposal content before it enters the
// approval queue.
//
// The classifier is a versioned, ordered rule table of regular
// expressions. It is a placeholder for a real risk model and sits behind
// the Classifier interface so it can be swapped without touching the
// runtime.
package intake
