package policy

// DefaultPrivateRanges returns common loopback, private and link-local CIDR
// blocks as a library-level list. Nothing applies them automatically, and
// HttpPolicy.DenyPrivateIPs does not use this list: the Policy Engine checks
// its own, wider set of blocked ranges.
func DefaultPrivateRanges() []string {
	return []string{
		"127.0.0.0/8",
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"169.254.0.0/16",
		"::1/128",
	}
}

// DefaultExfilDomains returns domain suffixes commonly used for data
// exfiltration via tunneling or paste services. Exposed for policy authors
// to fold into deny_paths/allow_domains lists; never applied implicitly.
func DefaultExfilDomains() []string {
	return []string{
		"ngrok.io",
		"ngrok-free.app",
		"serveo.net",
		"trycloudflare.com",
		"pastebin.com",
		"hastebin.com",
		"requestbin.com",
		"pipedream.net",
	}
}

// DefaultShellDenyTokens returns substrings that, when present verbatim in
// a shell.run command, are almost always a sign of privilege escalation or
// destructive intent (fork bombs, disk wipes, piping remote scripts into a
// shell). Policy authors can seed ShellPolicy.DenyTokens with these, but
// Capsule never assumes them.
func DefaultShellDenyTokens() []string {
	return []string{
		"rm -rf /",
		":(){:|:&};:",
		"mkfs",
		"dd if=/dev/zero",
		"dd if=/dev/random",
		"curl | sh",
		"curl | bash",
		"wget | sh",
		"wget | bash",
		"> /dev/sda",
		"chmod -R 777 /",
	}
}
