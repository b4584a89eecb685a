package service

import (
	"math"

	"gocv.io/x/gocv"
)

// patchFill 样本块填充：沿填充前沿逐点在有界邻域内搜索 SSD 最小的完整未损伤块，
// 只比较目标块中已知的像素，并复制块中仍未知的像素。
// 迭代次数和搜索半径都有上限，剩余空洞交给 Telea 收尾
func (in *Inpainter) patchFill(img, mask gocv.Mat) (gocv.Mat, error) {
	src := rasterOf(img)
	m := rasterOf(mask)
	rows, cols, ch := src.rows, src.cols, src.channels
	half := in.patch.PatchSize / 2

	out := src.clone()
	known := make([]bool, rows*cols)
	unknown := 0
	for i, v := range m.pix {
		known[i] = v == 0
		if !known[i] {
			unknown++
		}
	}

	// 原始掩码的积分图，用于 O(1) 判断候选块是否完全未损伤
	integral := make([]int, (rows+1)*(cols+1))
	stride := cols + 1
	for y := 0; y < rows; y++ {
		rowSum := 0
		for x := 0; x < cols; x++ {
			if m.pix[y*cols+x] != 0 {
				rowSum++
			}
			integral[(y+1)*stride+x+1] = integral[y*stride+x+1] + rowSum
		}
	}
	cleanPatch := func(cx, cy int) bool {
		x0, y0, x1, y1 := cx-half, cy-half, cx+half+1, cy+half+1
		if x0 < 0 || y0 < 0 || x1 > cols || y1 > rows {
			return false
		}
		return integral[y1*stride+x1]-integral[y0*stride+x1]-integral[y1*stride+x0]+integral[y0*stride+x0] == 0
	}

	search := func(px, py int) (int, int, bool) {
		best := math.MaxFloat64
		bx, by := -1, -1
		r := in.patch.SearchRadius
		for cy := py - r; cy <= py+r; cy += in.patch.SearchStride {
			for cx := px - r; cx <= px+r; cx += in.patch.SearchStride {
				if !cleanPatch(cx, cy) {
					continue
				}
				ssd := 0.0
				n := 0
				for dy := -half; dy <= half && ssd < best; dy++ {
					ty := py + dy
					if ty < 0 || ty >= rows {
						continue
					}
					for dx := -half; dx <= half; dx++ {
						tx := px + dx
						if tx < 0 || tx >= cols || !known[ty*cols+tx] {
							continue
						}
						t := (ty*cols + tx) * ch
						s := ((cy+dy)*cols + cx + dx) * ch
						for c := 0; c < ch; c++ {
							d := float64(out.pix[t+c]) - float64(src.pix[s+c])
							ssd += d * d
						}
						n++
					}
				}
				if n > 0 && ssd < best {
					best, bx, by = ssd, cx, cy
				}
			}
		}
		return bx, by, bx >= 0
	}

	hasKnownNeighbour := func(x, y int) bool {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				nx, ny := x+dx, y+dy
				if nx >= 0 && nx < cols && ny >= 0 && ny < rows && known[ny*cols+nx] {
					return true
				}
			}
		}
		return false
	}

	for iter := 0; iter < in.patch.MaxIterations && unknown > 0; iter++ {
		var front []int
		for i := range known {
			if !known[i] && hasKnownNeighbour(i%cols, i/cols) {
				front = append(front, i)
			}
		}
		if len(front) == 0 {
			break
		}

		progress := false
		for _, i := range front {
			if known[i] {
				continue
			}
			px, py := i%cols, i/cols
			bx, by, ok := search(px, py)
			if !ok {
				continue
			}
			for dy := -half; dy <= half; dy++ {
				for dx := -half; dx <= half; dx++ {
					tx, ty := px+dx, py+dy
					if tx < 0 || tx >= cols || ty < 0 || ty >= rows || known[ty*cols+tx] {
						continue
					}
					t := (ty*cols + tx) * ch
					s := ((by+dy)*cols + bx + dx) * ch
					copy(out.pix[t:t+ch], src.pix[s:s+ch])
					known[ty*cols+tx] = true
					unknown--
				}
			}
			progress = true
		}
		if !progress {
			break
		}
	}

	filled, err := out.mat()
	if err != nil || unknown == 0 {
		return filled, err
	}

	// 无法匹配的剩余像素
	rest := newRaster(rows, cols, 1)
	for i, k := range known {
		if !k {
			rest.pix[i] = 255
		}
	}
	restMask, err := rest.mat()
	if err != nil {
		return filled, err
	}
	defer restMask.Close()
	defer filled.Close()
	return teleaFill(filled, restMask, fastTeleaRadius), nil
}
