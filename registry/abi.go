package registry

// MedicalRecordsABI is the ABI of the MedicalRecords ledger contract.
//
// Records are append-only per owner. grantAccess, revokeAccess and
// recordAccess revert unless called by the owner (recordAccess: by the
// owner or a current grantee).
const MedicalRecordsABI = `[
	{"type":"function","name":"addRecord","stateMutability":"nonpayable",
	 "inputs":[
		{"name":"owner","type":"address"},
		{"name":"contentId","type":"bytes32"},
		{"name":"fileType","type":"string"},
		{"name":"category","type":"string"}],
	 "outputs":[]},
	{"type":"function","name":"getRecords","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"}],
	 "outputs":[{"name":"","type":"tuple[]","components":[
		{"name":"contentId","type":"bytes32"},
		{"name":"fileType","type":"string"},
		{"name":"category","type":"string"},
		{"name":"uploader","type":"address"},
		{"name":"timestamp","type":"uint256"}]}]},
	{"type":"function","name":"hasAccess","stateMutability":"view",
	 "inputs":[
		{"name":"owner","type":"address"},
		{"name":"requester","type":"address"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"recordAccess","stateMutability":"nonpayable",
	 "inputs":[
		{"name":"owner","type":"address"},
		{"name":"requester","type":"address"}],
	 "outputs":[]},
	{"type":"function","name":"grantAccess","stateMutability":"nonpayable",
	 "inputs":[
		{"name":"owner","type":"address"},
		{"name":"grantee","type":"address"}],
	 "outputs":[]},
	{"type":"function","name":"revokeAccess","stateMutability":"nonpayable",
	 "inputs":[
		{"name":"owner","type":"address"},
		{"name":"grantee","type":"address"}],
	 "outputs":[]},
	{"type":"event","name":"AccessRecorded","anonymous":false,
	 "inputs":[
		{"name":"owner","type":"address","indexed":true},
		{"name":"requester","type":"address","indexed":true},
		{"name":"timestamp","type":"uint256","indexed":false}]}
]`
