// Package permission provides the role->route permission table that drives
// both page authorization and navigation link visibility.
//
// # Representation
//
// Every known route path is registered in a [Registry] and receives a stable
// bit position. Each role is compiled by [RoleMasks] into a 64-bit
// [Mask] of the routes it may open. [RouteTable.HasAccess] is therefore a map
// lookup plus a bit test, and it is a pure function of (role, path).
//
// # Fail-closed
//
// A path that was never registered has no bit, so no role can reach it. A role
// that was never registered has no mask, so it reaches nothing. Paths are
// matched exactly after query and fragment are stripped; "/payments/" and
// "/payments" are different paths.
//
// # What this package must NOT do
//
//   - Perform I/O beyond decoding a caller-supplied reader.
//   - Import the root package, session, or any provider.
//   - Act as the security boundary. The server must enforce the same table;
//     this check keeps the UI honest, it does not protect the data.
package permission
