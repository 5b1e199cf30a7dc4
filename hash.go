package qzlogin

// hash33 is the rolling hash the portal derives request tokens with.
func hash33(key string, seed int) int {
	h := seed
	for i := 0; i < len(key); i++ {
		h += (h << 5) + int(key[i])
	}
	return h & 0x7FFFFFFF
}

// Gtk computes the per-request auth tag from the p_skey cookie value.
// Zero means no usable login.
func Gtk(pskey string) int {
	if pskey == "" {
		return 0
	}
	return hash33(pskey, 5381)
}

// ptqrtoken derives the QR poll token from the qrsig cookie.
func ptqrtoken(qrsig string) int {
	return hash33(qrsig, 0)
}
