package causal

// Message ids are self-describing: sender s, local sequence k (1-based, at
// most MaxQuota) gives s*1000+k. Sequence MaxQuota itself encodes to the next
// thousand, so the decoders subtract one before dividing.

const MaxQuota = 1000

func MessageID(sender, seq int) int {
	return sender*MaxQuota + seq
}

func SenderOf(id int) int {
	return (id - 1) / MaxQuota
}

func SeqOf(id int) int {
	return (id-1)%MaxQuota + 1
}
