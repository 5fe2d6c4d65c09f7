// Package testutil contains helper builders and utilities used across tests
// to reduce boilerplate when seeding session documents and asserting backend
// behavior. RunStoreSuite is the contract every core.SessionStore backend
// must pass. These helpers are not intended for production usage.
package testutil
