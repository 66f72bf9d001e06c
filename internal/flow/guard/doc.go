// Package guard keeps multi-agent conversations from degenerating into
// loops or spam. Four independent checks run per conversation:
//
//  1. a sliding-window rate limit on responses,
//  2. a consecutive-failure circuit breaker with decrement-on-suppress
//     self-healing,
//  3. a bounded FIFO cache of recent response signatures, and
//  4. a geometric fall-off on agent-to-agent reply probability with a
//     hard chain limit.
//
// Checks 1 and 2 run before generation; check 3 validates the candidate
// response; check 4 runs when the triggering event came from another agent.
package guard
