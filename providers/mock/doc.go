// Package mock provides controllable implementations of the sshkit capability interfaces
// for testing purposes.
//
// Every type embeds testify's mock.Mock, so expectations are declared with On and verified
// with AssertExpectations. Nothing here touches the network.
//
// Usage:
//
//	lib := mock.NewLibrary()
//	sess := mock.NewSession()
//	lib.On("MakeSession").Return(sess, nil)
//	sess.On("Handshake", mocklib.Anything).Return(nil)
//	// pass lib to sshkit.NewSession
package mock
