// Package security derives a posture report from the engine configuration:
// what protections are on and which known weaknesses apply.
package security
