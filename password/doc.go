// Package password hashes and verifies passwords and checks them against a
// composition policy.
//
// Two algorithms are supported. [Bcrypt] is the default, with its cost taken from
// BCRYPT_ROUNDS. [Argon2] produces PHC strings:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Multi] hashes with one algorithm and verifies any supported encoding, so stored
// hashes survive an algorithm switch. Every hasher reports NeedsUpgrade when a stored
// hash was produced with weaker parameters.
//
// This package never logs or stores plaintext passwords.
package password
