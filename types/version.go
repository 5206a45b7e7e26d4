package types

// Version is the canonical project version.
// The CLI, the wire contract and the job grammar share this version
// per the lockstep versioning policy.
const Version = "0.3.0"
