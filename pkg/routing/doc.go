// Package routing selects, for each incoming request, the queue expected
// to serve it soonest.
//
// The router holds one set of queuer/client pairs per provider. A request
// names one or more (provider, model) targets; every queuer of every named
// provider reports its estimated wait for the request, and the smallest
// estimate wins, ties broken by first-seen order. The winning queue
// receives the execution closure and the caller gets the call's result
// enriched with the chosen provider and model.
//
// Key configurations can be reloaded at runtime per provider: old queuers
// drain in-flight work against their old clients while new arrivals land
// on the fresh set. Reload is unavailable when keys come directly from the
// environment.
package routing
