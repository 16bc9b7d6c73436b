// Package config loads and validates syncroom.json, the file
// configuration behind the syncroom command. It discovers the file by
// walking up from the working directory, honors the SYNCROOM_CONFIG
// environment override, and converts the file schema into the
// application config.
package config
