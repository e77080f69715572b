// Package sshkittest provides a contract test suite for sshkit engines.
//
// A contract run needs a reachable server and a writable directory on it:
//
//	sshkittest.Verify(t, sshkittest.Target{Session: dial, Root: "/tmp"})
package sshkittest

// AllContracts returns all test cases for the contract test suite.
func AllContracts() []TestCase {
	const initialCapacity = 24

	contracts := make([]TestCase, 0, initialCapacity)

	contracts = append(contracts, coreContracts()...)
	contracts = append(contracts, environmentContracts()...)
	contracts = append(contracts, systemContracts()...)
	contracts = append(contracts, fileContracts()...)
	contracts = append(contracts, errorContracts()...)

	return contracts
}
