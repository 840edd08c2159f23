package signature

// PairedResult is the outcome of a minimizer search across both mates of a
// paired-end record (spec §4.1 "Paired-end extension").
type PairedResult struct {
	Result
	// WinnerIsMate2 is true when the global minimum came from R2 (forward or
	// reverse complement), meaning the mates must be swapped so that the
	// mate carrying the winning minimizer is always stored as R1.
	WinnerIsMate2 bool
}

// FindMinimizerPaired computes minimizers for both mates in both
// orientations and chooses the global minimum across {R1, R2, rc(R1),
// rc(R2)}.
func FindMinimizerPaired(seq1, qual1, seq2, qual2 []byte, p Params, vb *ValidityBitmap) (PairedResult, error) {
	r1, err := FindMinimizer(seq1, qual1, p, vb)
	if err != nil {
		return PairedResult{}, err
	}
	r2, err := FindMinimizer(seq2, qual2, p, vb)
	if err != nil {
		return PairedResult{}, err
	}

	nbin := p.NBin()
	switch {
	case r1.Sig == nbin && r2.Sig == nbin:
		return PairedResult{Result: Result{Sig: nbin}}, nil
	case r1.Sig == nbin:
		return PairedResult{Result: r2, WinnerIsMate2: true}, nil
	case r2.Sig == nbin:
		return PairedResult{Result: r1, WinnerIsMate2: false}, nil
	case r2.Sig < r1.Sig:
		return PairedResult{Result: r2, WinnerIsMate2: true}, nil
	default:
		return PairedResult{Result: r1, WinnerIsMate2: false}, nil
	}
}
