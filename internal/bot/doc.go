// Package bot runs the registration token bot on Matrix.
//
// A Router turns chat messages into calls on a TokenService and returns
// markdown replies. A Bot owns the mautrix client: it logs in, joins rooms it
// is invited to, filters sync events down to fresh text messages and sends the
// router's replies back as formatted notices. Encryption is optional and set
// up with EnableCrypto after Login.
package bot
