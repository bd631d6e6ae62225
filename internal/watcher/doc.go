// Package watcher turns filesystem changes into task runs and reload
// notifications.
//
// A Watcher keeps one OS watch per path, shared between registrations, and
// delivers one Event per path once it has been quiet for the debounce period.
// A Session binds glob patterns relative to a project root to Actions.
// Delivery is best effort: under load several changes to a path arrive as one
// Event whose Op carries all of them.
package watcher
