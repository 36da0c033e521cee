package jsfunc

// Built-in function groups. They are not loaded at startup; callers opt
// in per group so a bare session advertises no tools at all.

const (
	GroupRC4  = "builtin:rc4"
	GroupMath = "builtin:math"
)

var builtinGroups = map[string][]string{
	GroupRC4: {
		`/**
 * Encrypt plaintext with RC4 and return the ciphertext as hex.
 * @param {string} key - Encryption key
 * @param {string} plaintext - Text to encrypt
 * @returns Hex-encoded ciphertext
 * @callable
 */
function rc4_encrypt(key, plaintext) {
  var bytes = rc4_apply(key, strToBytes(plaintext));
  var hex = "";
  for (var i = 0; i < bytes.length; i++) {
    hex += (bytes[i] < 16 ? "0" : "") + bytes[i].toString(16);
  }
  return hex;
}

/**
 * Decrypt hex-encoded RC4 ciphertext back to plaintext.
 * @param {string} key - Decryption key
 * @param {string} ciphertext - Hex-encoded ciphertext
 * @returns Decrypted plaintext
 * @callable
 */
function rc4_decrypt(key, ciphertext) {
  var bytes = [];
  for (var i = 0; i < ciphertext.length; i += 2) {
    bytes.push(parseInt(ciphertext.substr(i, 2), 16));
  }
  return bytesToStr(rc4_apply(key, bytes));
}

/** @internal */
function rc4_apply(key, data) {
  var S = [], i, j = 0, out = [];
  for (i = 0; i < 256; i++) S[i] = i;
  for (i = 0; i < 256; i++) {
    j = (j + S[i] + key.charCodeAt(i % key.length)) % 256;
    var tmp = S[i]; S[i] = S[j]; S[j] = tmp;
  }
  i = 0; j = 0;
  for (var n = 0; n < data.length; n++) {
    i = (i + 1) % 256;
    j = (j + S[i]) % 256;
    var t = S[i]; S[i] = S[j]; S[j] = t;
    out.push(data[n] ^ S[(S[i] + S[j]) % 256]);
  }
  return out;
}

/** @internal */
function strToBytes(s) {
  var out = [];
  for (var i = 0; i < s.length; i++) out.push(s.charCodeAt(i) & 0xff);
  return out;
}

/** @internal */
function bytesToStr(bytes) {
  var out = "";
  for (var i = 0; i < bytes.length; i++) out += String.fromCharCode(bytes[i]);
  return out;
}`,
	},
	GroupMath: {
		`/**
 * Compute basic statistics over a list of numbers.
 * @param {array} values - Numbers to summarize
 * @returns Object with count, sum, mean, min and max
 * @callable
 */
function summarize(values) {
  if (!values || values.length === 0) {
    return { count: 0, sum: 0, mean: 0, min: 0, max: 0 };
  }
  var sum = 0, min = values[0], max = values[0];
  for (var i = 0; i < values.length; i++) {
    sum += values[i];
    if (values[i] < min) min = values[i];
    if (values[i] > max) max = values[i];
  }
  return { count: values.length, sum: sum, mean: sum / values.length, min: min, max: max };
}

/**
 * Evaluate a factorial.
 * @param {number} n - Non-negative integer
 * @returns n!
 * @callable
 */
function factorial(n) {
  if (n < 0) throw new Error("factorial of negative number");
  var result = 1;
  for (var i = 2; i <= n; i++) result *= i;
  return result;
}

/**
 * Test whether a number is prime.
 * @param {number} n - Integer to test
 * @returns true when n is prime
 * @callable
 */
function is_prime(n) {
  if (n < 2) return false;
  for (var i = 2; i * i <= n; i++) {
    if (n % i === 0) return false;
  }
  return true;
}`,
	},
}

// BuiltinGroupIDs lists the available built-in group identifiers.
func BuiltinGroupIDs() []string {
	return []string{GroupRC4, GroupMath}
}

// LoadBuiltinGroup parses and registers one built-in group. Unknown
// group IDs are a no-op returning false.
func (r *Registry) LoadBuiltinGroup(groupID string) (bool, error) {
	sources, ok := builtinGroups[groupID]
	if !ok {
		return false, nil
	}
	for _, src := range sources {
		if _, err := r.AddSource(src, groupID); err != nil {
			return false, err
		}
	}
	return true, nil
}
