// Package pgstore keeps staff profiles in Postgres through a pgx pool.
//
// The schema ships as embedded migrations applied with [Migrate]. Role and
// is_active are only ever written by administrators through other tools;
// [Store.UpdateProfile] can only touch name, phone, avatar_url and
// updated_at.
package pgstore
