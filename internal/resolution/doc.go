// Package resolution provides the business boundary for settle's alert
// resolution runs. It defines the Service (fetch, pair, close, notify,
// persist, publish), the collaborator interfaces it drives, the Store
// interface for run history, and the Run model.
package resolution
