package config

const serverSample = `
# Address of the HTTP API. (default 127.0.0.1:8080)
listen = "127.0.0.1:8080"

# Address of the Prometheus endpoint. Empty serves /metrics on the API
# listener. (default "")
metrics = ""

# Identities allowed to replace the issuer configuration. (default none)
# admins = ["did:web:admin.example"]

# Maximum age of caller bearer tokens. (default 5m0s)
token_max_age = "5m0s"
`

const storageSample = `
# Path of the sqlite database. (default metaissuer.db)
path = "metaissuer.db"
`

const signingSample = `
# Ed25519 private key as JWK, created by "metaissuer key gen".
# (default issuer.jwk)
key_file = "issuer.jwk"

# iss claim of issued credentials. (default https://metaissuer.vc)
issuer_url = "https://metaissuer.vc"
`

const issuerSample = `
# Initial derivation origin and alias issuers. Only used when the database
# holds no issuer configuration yet; use "metaissuer configure" afterwards.
derivation_origin = ""
# alias_issuers = ["did:web:idp.example"]

# File trust store with alias issuer keys. (default "")
trust_dir = ""

# Remote JWKS endpoint for alias issuer keys. {issuer} is replaced by the
# path-escaped issuer identity. (default "")
jwks_url = ""

# Resolve did:key alias issuers from the identifier. (default false)
allow_did_key = false

# Lifetime of a prepared signature. (default 1m0s)
signature_ttl = "1m0s"

# Maximum number of prepared signatures held in memory. (default 10000)
max_pending_signatures = 10000

# How often expired signatures are dropped. (default 30s)
prune_interval = "30s"
`

const logSample = `
# Log level: debug, info, warn or error. (default info)
level = "info"
`

const assetsSample = `
# Directory served under / with every file certified. (default "")
dir = ""
`
